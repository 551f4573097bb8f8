package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/ctirag/internal/api"
	"github.com/cloo-solutions/ctirag/internal/pagination"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/go-chi/chi/v5"
)

type ExecutionService interface {
	Execute(ctx context.Context, in service.ExecuteInput) (string, error)
	Status(ctx context.Context, runID string) (*service.ExecutionStatus, error)
	ListRuns(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*service.ExecutionStatus], error)
}

type ExecutionHandler struct {
	svc ExecutionService
}

func NewExecutionHandler(svc ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{svc: svc}
}

type ExecuteConfig struct {
	RAGFiles      []string `json:"rag_files"`
	RAGTopK       int      `json:"rag_topk"`
	RAGEmbedModel string   `json:"rag_embed_model"`
}

type ExecuteRequest struct {
	Text   string        `json:"text"`
	Type   string        `json:"type"`
	Config ExecuteConfig `json:"config"`
}

type ExecuteResponse struct {
	RunID string `json:"run_id"`
}

func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	runID, err := h.svc.Execute(r.Context(), service.ExecuteInput{
		Focus:      req.Type,
		Prompt:     req.Text,
		RAGFiles:   req.Config.RAGFiles,
		RAGTopK:    req.Config.RAGTopK,
		EmbedModel: req.Config.RAGEmbedModel,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, ExecuteResponse{RunID: runID})
}

// GetRun serves GET /runs/{id}.
func (h *ExecutionHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, chi.URLParam(r, "id"))
}

// Status serves GET /status?run_id=.
func (h *ExecutionHandler) Status(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		api.Error(w, http.StatusBadRequest, "missing run_id")
		return
	}
	h.status(w, r, runID)
}

func (h *ExecutionHandler) status(w http.ResponseWriter, r *http.Request, runID string) {
	st, err := h.svc.Status(r.Context(), runID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, st)
}

func (h *ExecutionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	page, err := h.svc.ListRuns(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, page)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/ctirag/internal/api"
	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/go-chi/chi/v5"
)

type BundleService interface {
	Upload(ctx context.Context, filename string, data []byte) (*domain.BundleFile, error)
	List(ctx context.Context) ([]domain.BundleFile, error)
	Delete(ctx context.Context, filename string) error
}

type ContextPreviewer interface {
	PreviewContext(ctx context.Context, in service.PreviewInput) (*service.ContextPreview, error)
}

type RAGHandler struct {
	bundles BundleService
	preview ContextPreviewer
}

func NewRAGHandler(bundles BundleService, preview ContextPreviewer) *RAGHandler {
	return &RAGHandler{bundles: bundles, preview: preview}
}

type UploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type FileResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

type FilesResponse struct {
	Files []FileResponse `json:"files"`
}

type ContextRequest struct {
	Query      string   `json:"query"`
	RAGFiles   []string `json:"rag_files"`
	TopK       int      `json:"topk"`
	EmbedModel string   `json:"embed_model"`
}

// Upload accepts a multipart form with a "file" part holding a bundle.
func (h *RAGHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, `missing "file" field in form-data`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	filename := header.Filename
	if filename == "" {
		filename = "rag.json"
	}

	stored, err := h.bundles.Upload(r.Context(), filename, data)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, UploadResponse{
		Message:  "RAG file uploaded",
		Filename: stored.Name,
		Size:     stored.Size,
	})
}

func (h *RAGHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.bundles.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := FilesResponse{Files: make([]FileResponse, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, FileResponse{
			Filename: f.Name,
			Size:     f.Size,
			Modified: f.Modified.UTC().Format(time.RFC3339),
		})
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *RAGHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.bundles.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Context runs a synchronous retrieval over the selected files.
func (h *RAGHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	preview, err := h.preview.PreviewContext(r.Context(), service.PreviewInput{
		Query:      req.Query,
		RAGFiles:   req.RAGFiles,
		TopK:       req.TopK,
		EmbedModel: req.EmbedModel,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, preview)
}

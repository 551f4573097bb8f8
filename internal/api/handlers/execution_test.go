package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/pagination"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockExecutionService struct {
	mock.Mock
}

func (m *MockExecutionService) Execute(ctx context.Context, in service.ExecuteInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func (m *MockExecutionService) Status(ctx context.Context, runID string) (*service.ExecutionStatus, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ExecutionStatus), args.Error(1)
}

func (m *MockExecutionService) ListRuns(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*service.ExecutionStatus], error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*service.ExecutionStatus]), args.Error(1)
}

func decodeData(t *testing.T, body []byte, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestExecutionHandler_Execute(t *testing.T) {
	svc := new(MockExecutionService)
	svc.On("Execute", mock.Anything, service.ExecuteInput{
		Focus:      "rag_planner",
		Prompt:     "emulate apt29",
		RAGFiles:   []string{"enterprise.json"},
		RAGTopK:    7,
		EmbedModel: "text-embedding-3-large",
	}).Return("run-1", nil)
	h := NewExecutionHandler(svc)

	body := `{"text":"emulate apt29","type":"rag_planner","config":{"rag_files":["enterprise.json"],"rag_topk":7,"rag_embed_model":"text-embedding-3-large"}}`
	w := httptest.NewRecorder()
	h.Execute(w, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp ExecuteResponse
	decodeData(t, w.Body.Bytes(), &resp)
	assert.Equal(t, "run-1", resp.RunID)
	svc.AssertExpectations(t)
}

func TestExecutionHandler_ExecuteBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed json", `{"text":`, nil, http.StatusBadRequest},
		{"missing text", `{"type":"planner"}`, nil, http.StatusBadRequest},
		{"invalid focus", `{"text":"x","type":"bogus"}`, domain.ErrInvalidFocus, http.StatusBadRequest},
		{"no credential", `{"text":"x"}`, domain.ErrMissingCredential, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockExecutionService)
			if tt.err != nil {
				svc.On("Execute", mock.Anything, mock.Anything).Return("", tt.err)
			}
			h := NewExecutionHandler(svc)

			w := httptest.NewRecorder()
			h.Execute(w, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(tt.body)))

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestExecutionHandler_GetRun(t *testing.T) {
	svc := new(MockExecutionService)
	svc.On("Status", mock.Anything, "run-1").Return(&service.ExecutionStatus{
		RunID:         "run-1",
		Status:        domain.RunStatusFinished,
		Stage:         "complete",
		Prompt:        "emulate apt29",
		ProcessResult: "plan",
	}, nil)
	svc.On("Status", mock.Anything, "missing").Return(nil, domain.ErrRunNotFound)

	r := chi.NewRouter()
	h := NewExecutionHandler(svc)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/status", h.Status)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st service.ExecutionStatus
	decodeData(t, w.Body.Bytes(), &st)
	assert.Equal(t, "complete", st.Stage)
	assert.Equal(t, domain.RunStatusFinished, st.Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?run_id=missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing run_id")
}

func TestExecutionHandler_ListRuns(t *testing.T) {
	svc := new(MockExecutionService)
	svc.On("ListRuns", mock.Anything, "abc", 2).Return(&pagination.PageResult[*service.ExecutionStatus]{
		Items:   []*service.ExecutionStatus{{RunID: "r2"}, {RunID: "r1"}},
		Cursor:  "next",
		HasMore: true,
	}, nil)
	h := NewExecutionHandler(svc)

	w := httptest.NewRecorder()
	h.ListRuns(w, httptest.NewRequest(http.MethodGet, "/runs?limit=2&cursor=abc", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var page pagination.PageResult[*service.ExecutionStatus]
	decodeData(t, w.Body.Bytes(), &page)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "next", page.Cursor)
	assert.True(t, page.HasMore)

	w = httptest.NewRecorder()
	h.ListRuns(w, httptest.NewRequest(http.MethodGet, "/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBundleService struct {
	mock.Mock
}

func (m *MockBundleService) Upload(ctx context.Context, filename string, data []byte) (*domain.BundleFile, error) {
	args := m.Called(ctx, filename, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BundleFile), args.Error(1)
}

func (m *MockBundleService) List(ctx context.Context) ([]domain.BundleFile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BundleFile), args.Error(1)
}

func (m *MockBundleService) Delete(ctx context.Context, filename string) error {
	args := m.Called(ctx, filename)
	return args.Error(0)
}

type MockContextPreviewer struct {
	mock.Mock
}

func (m *MockContextPreviewer) PreviewContext(ctx context.Context, in service.PreviewInput) (*service.ContextPreview, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ContextPreview), args.Error(1)
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/rag/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRAGHandler_Upload(t *testing.T) {
	content := []byte(`{"type":"bundle","objects":[]}`)
	bundles := new(MockBundleService)
	bundles.On("Upload", mock.Anything, "enterprise.json", content).
		Return(&domain.BundleFile{Name: "enterprise_20250101_000000.json", Size: int64(len(content))}, nil)
	h := NewRAGHandler(bundles, nil)

	w := httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "file", "enterprise.json", content))

	require.Equal(t, http.StatusOK, w.Code)
	var resp UploadResponse
	decodeData(t, w.Body.Bytes(), &resp)
	assert.Equal(t, "RAG file uploaded", resp.Message)
	assert.Equal(t, "enterprise_20250101_000000.json", resp.Filename)
	assert.Equal(t, int64(len(content)), resp.Size)
}

func TestRAGHandler_UploadErrors(t *testing.T) {
	bundles := new(MockBundleService)
	bundles.On("Upload", mock.Anything, "notes.txt", mock.Anything).Return(nil, domain.ErrInvalidFilename)
	bundles.On("Upload", mock.Anything, "broken.json", mock.Anything).Return(nil, domain.ErrMalformedBundle)
	h := NewRAGHandler(bundles, nil)

	w := httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "document", "a.json", []byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing")

	w = httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "file", "notes.txt", []byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "file", "broken.json", []byte(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeValidation)
}

func TestRAGHandler_ListFiles(t *testing.T) {
	bundles := new(MockBundleService)
	bundles.On("List", mock.Anything).Return([]domain.BundleFile{
		{Name: "a.json", Size: 10, Modified: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
	}, nil)
	h := NewRAGHandler(bundles, nil)

	w := httptest.NewRecorder()
	h.ListFiles(w, httptest.NewRequest(http.MethodGet, "/rag/files", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp FilesResponse
	decodeData(t, w.Body.Bytes(), &resp)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, FileResponse{Filename: "a.json", Size: 10, Modified: "2025-01-02T03:04:05Z"}, resp.Files[0])
}

func TestRAGHandler_DeleteFile(t *testing.T) {
	bundles := new(MockBundleService)
	bundles.On("Delete", mock.Anything, "a.json").Return(nil)
	bundles.On("Delete", mock.Anything, "b.json").Return(domain.ErrBundleNotFound)
	r := chi.NewRouter()
	r.Delete("/rag/files/{name}", NewRAGHandler(bundles, nil).DeleteFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/rag/files/a.json", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/rag/files/b.json", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRAGHandler_Context(t *testing.T) {
	preview := new(MockContextPreviewer)
	preview.On("PreviewContext", mock.Anything, service.PreviewInput{
		Query:    "emotet",
		RAGFiles: []string{"a.json"},
		TopK:     3,
	}).Return(&service.ContextPreview{
		RetrievalResult: &domain.RetrievalResult{
			Query:         "emotet",
			SearchResults: []string{"Emotet | trojan"},
			DetailedContext: []domain.DetailedContext{
				{Name: "Emotet", Description: "trojan"},
			},
		},
		Context: "Relevant CTI findings:\n1. Emotet | trojan",
		Records: 1,
	}, nil)
	preview.On("PreviewContext", mock.Anything, mock.MatchedBy(func(in service.PreviewInput) bool {
		return in.Query == "down"
	})).Return(nil, domain.ErrEmbeddingFailed)
	h := NewRAGHandler(nil, preview)

	w := httptest.NewRecorder()
	h.Context(w, httptest.NewRequest(http.MethodPost, "/rag/context",
		bytes.NewBufferString(`{"query":"emotet","rag_files":["a.json"],"topk":3}`)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	decodeData(t, w.Body.Bytes(), &resp)
	assert.Equal(t, "emotet", resp["query"])
	assert.Equal(t, "Relevant CTI findings:\n1. Emotet | trojan", resp["context"])
	assert.Len(t, resp["search_results"], 1)
	assert.Len(t, resp["detailed_context"], 1)

	w = httptest.NewRecorder()
	h.Context(w, httptest.NewRequest(http.MethodPost, "/rag/context",
		bytes.NewBufferString(`{"query":"down","rag_files":["a.json"]}`)))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

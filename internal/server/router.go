package server

import (
	"net/http"

	"github.com/cloo-solutions/ctirag/internal/api"
	"github.com/cloo-solutions/ctirag/internal/api/handlers"
	"github.com/cloo-solutions/ctirag/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds request bodies. Bundle uploads are the largest.
const DefaultMaxBodyBytes int64 = 64 << 20

type RouterConfig struct {
	ExecutionHandler *handlers.ExecutionHandler
	RAGHandler       *handlers.RAGHandler
	Logger           *zap.Logger
	MaxBodyBytes     int64
	// Health reports extra component status, e.g. run store and bundle
	// storage backends.
	Health map[string]string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		for k, v := range cfg.Health {
			body[k] = v
		}
		api.Success(w, http.StatusOK, body)
	})

	r.Post("/execute", cfg.ExecutionHandler.Execute)
	r.Get("/status", cfg.ExecutionHandler.Status)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", cfg.ExecutionHandler.ListRuns)
		r.Get("/{id}", cfg.ExecutionHandler.GetRun)
	})

	r.Route("/rag", func(r chi.Router) {
		r.Post("/upload", cfg.RAGHandler.Upload)
		r.Get("/files", cfg.RAGHandler.ListFiles)
		r.Delete("/files/{name}", cfg.RAGHandler.DeleteFile)
		r.Post("/context", cfg.RAGHandler.Context)
	})

	return r
}

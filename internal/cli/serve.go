package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/ctirag/internal/api/handlers"
	"github.com/cloo-solutions/ctirag/internal/config"
	"github.com/cloo-solutions/ctirag/internal/database"
	"github.com/cloo-solutions/ctirag/internal/jobs"
	"github.com/cloo-solutions/ctirag/internal/openai"
	"github.com/cloo-solutions/ctirag/internal/repository"
	"github.com/cloo-solutions/ctirag/internal/server"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/cloo-solutions/ctirag/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(rt *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the ctiragd API server and the background execution workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rt)
		},
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CTIRAG_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, rt *app) error {
	logger := rt.logger
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	// 10% of traces in production, all of them in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
		Logger:           logger,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTelemetry()
	}

	var (
		runs       service.RunStore = service.NewMemoryRunStore()
		cache      openai.EmbeddingCache
		runBackend = "memory"
	)
	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to database")

		if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
			if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir, logger); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		runs = repository.NewRunRepository(pool)
		cache = repository.NewEmbeddingCacheRepository(pool)
		runBackend = "postgres"
	} else {
		logger.Warn("CTIRAG_DATABASE_URL not set, runs are kept in memory")
	}

	store, storeBackend, err := openBundleStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	bundles := service.NewBundleService(store, logger.Named("bundles"))

	var planner service.Planner
	if cfg.HasOpenAI() {
		planner = openai.NewPlanner(openai.PlannerConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.ChatModel,
		})
	} else {
		logger.Warn("CTIRAG_OPENAI_API_KEY not set, executions will be rejected")
	}

	// Workers outlive the signal context so queued runs can drain.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	workers := jobs.NewPool(cfg.Workers, cfg.QueueSize, logger.Named("jobs"))
	workers.Start(workCtx)

	execution := service.NewExecutionService(
		runs,
		bundles,
		rt.embedders(cfg, cache, logger),
		planner,
		workers,
		ragOptions(cfg),
		logger.Named("execution"),
	)

	router := server.NewRouter(server.RouterConfig{
		ExecutionHandler: handlers.NewExecutionHandler(execution),
		RAGHandler:       handlers.NewRAGHandler(bundles, execution),
		Logger:           logger.Named("http"),
		Health: map[string]string{
			"run_store":    runBackend,
			"bundle_store": storeBackend,
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server forced to shutdown: %w", err)
	}
	drainWorkers(shutdownCtx, workers, cancelWork, logger)

	logger.Info("server exited")
	return runErr
}

// drainWorkers waits for queued runs until ctx expires, then cancels the ones
// still in flight.
func drainWorkers(ctx context.Context, workers *jobs.Pool, cancelWork context.CancelFunc, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		workers.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("worker drain timed out, cancelling in-flight runs")
		cancelWork()
		<-done
	}
}

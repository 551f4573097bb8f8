package cli

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/ctirag/internal/config"
	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/index"
	"github.com/cloo-solutions/ctirag/internal/openai"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/cloo-solutions/ctirag/internal/storage"
	"go.uber.org/zap"
)

type embedderFactoryFunc func(cfg *config.Config, cache openai.EmbeddingCache, logger *zap.Logger) service.EmbedderFactory

// openAIEmbedders builds one embedding client per requested model. A nil
// cache disables the persistent embedding cache.
func openAIEmbedders(cfg *config.Config, cache openai.EmbeddingCache, logger *zap.Logger) service.EmbedderFactory {
	configured := openai.EmbeddingModelName(cfg.EmbedModel)

	return func(model string) (index.Embedder, error) {
		if !cfg.HasOpenAI() {
			return nil, domain.ErrMissingCredential
		}

		name := openai.EmbeddingModelName(model)
		dims := cfg.EmbedDimensions
		if name != configured {
			dims = openai.DimensionsFor(name, cfg.EmbedDimensions)
		}

		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      name,
			EmbeddingDimensions: dims,
			MaxRetries:          cfg.EmbedMaxRetries,
			Timeout:             cfg.EmbedTimeout,
			RatePerSecond:       cfg.EmbedRatePerSec,
			Logger:              logger.Named("openai"),
		})
		if cache == nil {
			return client, nil
		}
		return openai.NewCachedEmbedder(client, cache, string(name), logger), nil
	}
}

func ragOptions(cfg *config.Config) service.RAGOptions {
	return service.RAGOptions{
		TopK:          cfg.RAGTopK,
		MaxCharacters: cfg.RAGMaxCharacters,
		EmbedModel:    cfg.EmbedModel,
		BatchSize:     cfg.EmbedBatchSize,
		Concurrency:   cfg.EmbedConcurrency,
	}
}

// openBundleStore prefers S3 when it is configured and falls back to the
// local data directory. The second return value names the backend.
func openBundleStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.BundleStore, string, error) {
	if cfg.HasS3() {
		store, err := storage.NewS3Store(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
			KeyPrefix:       cfg.S3Prefix,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create S3 store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("bundle storage ready", zap.String("backend", "s3"), zap.String("bucket", cfg.S3Bucket))
		return store, "s3", nil
	}

	store, err := storage.NewLocalStore(cfg.DataDir)
	if err != nil {
		return nil, "", err
	}
	logger.Info("bundle storage ready", zap.String("backend", "local"), zap.String("dir", cfg.DataDir))
	return store, "local", nil
}

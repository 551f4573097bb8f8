package openai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// Embedder is satisfied by Client and by CachedEmbedder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingCache stores vectors keyed by model and text hash.
type EmbeddingCache interface {
	GetMany(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	PutMany(ctx context.Context, model string, entries map[string][]float32) error
}

// CachedEmbedder answers from the cache where it can and embeds only the
// misses. Cache failures are logged and never fail the call.
type CachedEmbedder struct {
	next   Embedder
	cache  EmbeddingCache
	model  string
	logger *zap.Logger
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{next: next, cache: cache, model: model, logger: logger}
}

// TextHash is the cache key for text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = TextHash(t)
	}

	cached, err := e.cache.GetMany(ctx, e.model, hashes)
	if err != nil {
		e.logger.Warn("embedding cache lookup failed", zap.Error(err))
		cached = nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, h := range hashes {
		if v, ok := cached[h]; ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(vecs))
	}

	fresh := make(map[string][]float32, len(vecs))
	for j, v := range vecs {
		out[missIdx[j]] = v
		fresh[hashes[missIdx[j]]] = v
	}

	if err := e.cache.PutMany(ctx, e.model, fresh); err != nil {
		e.logger.Warn("embedding cache store failed", zap.Error(err))
	}

	e.logger.Debug("embedded texts",
		zap.Int("requested", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missTexts)))
	return out, nil
}

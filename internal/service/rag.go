package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloo-solutions/ctirag/internal/corpus"
	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/index"
	"github.com/cloo-solutions/ctirag/internal/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultTopK          = 5
	DefaultMaxCharacters = 6000
	DefaultEmbedModel    = "text-embedding-3-small"

	// SearchResultsCap bounds the primary title search payload.
	SearchResultsCap = 5
	// DetailLookupK widens the candidate set for the ranked detail fallback.
	DetailLookupK = 10
	// DetailedContextCap is how many title search entries get a detail lookup.
	DetailedContextCap = 3
	// supplementaryDepth is the deepest rank kept for the diagnostic slice.
	supplementaryDepth = 30
)

// RAGOptions configures a RAGService.
type RAGOptions struct {
	TopK int
	// MaxCharacters is the advisory context budget for callers. The service
	// does not enforce it.
	MaxCharacters int
	EmbedModel    string
	BatchSize     int
	Concurrency   int
}

func (o RAGOptions) withDefaults() RAGOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MaxCharacters <= 0 {
		o.MaxCharacters = DefaultMaxCharacters
	}
	if o.EmbedModel == "" {
		o.EmbedModel = DefaultEmbedModel
	}
	return o
}

// TitleSearch is the output of the broad title search.
type TitleSearch struct {
	// Results holds at most SearchResultsCap composite texts, or the
	// not-initialized sentinel.
	Results []string
	// Hits are the structured records behind Results, same order.
	Hits []index.Hit
	// Supplementary holds titles ranked below the primary results. Diagnostic
	// only.
	Supplementary []string
}

// title returns the title of the i-th result without splitting composite
// text when a structured hit is available.
func (t *TitleSearch) title(i int) (string, bool) {
	if i < len(t.Hits) {
		return t.Hits[i].Record.Title, true
	}
	title, _, ok := domain.SplitComposite(t.Results[i])
	return title, ok
}

// RAGService answers title and detail queries over one set of bundles. The
// index is built once; a different bundle set needs a new RAGService.
type RAGService struct {
	embedder index.Embedder
	opts     RAGOptions
	logger   *zap.Logger

	mu     sync.RWMutex
	corpus corpus.Corpus
	idx    *index.Index
}

// NewRAGService creates a service that is not ready until
// InitializeFromBundles succeeds.
func NewRAGService(embedder index.Embedder, opts RAGOptions, logger *zap.Logger) *RAGService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGService{
		embedder: embedder,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Options returns the effective options.
func (s *RAGService) Options() RAGOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// SetTopK changes the index k. Only allowed before the index is built.
func (s *RAGService) SetTopK(k int) error {
	if k <= 0 {
		return domain.ErrInvalidTopK
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		return domain.ErrIndexAlreadyBuilt
	}
	s.opts.TopK = k
	return nil
}

// Ready reports whether the index has been built, even if it is empty.
func (s *RAGService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx != nil
}

// Len returns the number of indexed records.
func (s *RAGService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corpus.Len()
}

// InitializeFromBundles extracts the corpus from bundles and builds the index.
func (s *RAGService) InitializeFromBundles(ctx context.Context, bundles []*domain.Bundle) error {
	c := corpus.ExtractAll(bundles...)

	ctx, span := telemetry.StartSpan(ctx, "rag.initialize", telemetry.SpanAttributes{
		Operation: "initialize",
		Records:   c.Len(),
	})
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		return domain.ErrIndexAlreadyBuilt
	}

	opts := []index.Option{index.WithK(s.opts.TopK)}
	if s.opts.BatchSize > 0 {
		opts = append(opts, index.WithBatchSize(s.opts.BatchSize))
	}
	if s.opts.Concurrency > 0 {
		opts = append(opts, index.WithConcurrency(s.opts.Concurrency))
	}

	idx, err := index.Build(ctx, c.Records, s.embedder, opts...)
	if err != nil {
		span.SetError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.ErrEmbeddingFailed.Wrap(err)
	}

	s.corpus = c
	s.idx = idx
	s.logger.Info("rag index built",
		zap.Int("bundles", len(bundles)),
		zap.Int("records", c.Len()),
		zap.Int("titles", len(c.Titles)),
		zap.String("embed_model", s.opts.EmbedModel),
		zap.Int("topk", s.opts.TopK))
	return nil
}

func (s *RAGService) snapshot() (*index.Index, corpus.Corpus, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx, s.corpus, s.opts.TopK
}

// searchable reports whether idx can answer queries. An index built from zero
// records is ready but answers like an unbuilt one.
func searchable(idx *index.Index) bool {
	return idx != nil && idx.Len() > 0
}

// SearchTitles runs the broad discovery query. An unbuilt or empty index
// yields the not-initialized sentinel as the single result.
func (s *RAGService) SearchTitles(ctx context.Context, query string) (*TitleSearch, error) {
	idx, _, topK := s.snapshot()
	if !searchable(idx) {
		return &TitleSearch{Results: []string{domain.SentinelNotInitialized}}, nil
	}

	hits, err := idx.QueryK(ctx, query, max(topK, supplementaryDepth))
	if err != nil {
		return nil, fmt.Errorf("title search: %w", err)
	}

	primary := min(topK, SearchResultsCap)
	out := &TitleSearch{}
	if len(hits) > primary {
		out.Supplementary = titles(hits[primary:min(len(hits), supplementaryDepth)])
		hits = hits[:primary]
	} else {
		out.Supplementary = titles(hits)
	}

	out.Hits = hits
	out.Results = make([]string, len(hits))
	for i, h := range hits {
		out.Results[i] = h.Text()
	}

	s.logger.Debug("title search",
		zap.String("query", query),
		zap.Int("results", len(out.Results)),
		zap.Strings("supplementary", out.Supplementary))
	return out, nil
}

func titles(hits []index.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Record.Title
	}
	return out
}

// SearchDetail returns the body for an exact title, falling back to a ranked
// lookup for titles that did not come from the corpus. Misses yield the
// no-data sentinel.
func (s *RAGService) SearchDetail(ctx context.Context, title string) (string, error) {
	idx, c, _ := s.snapshot()
	if body, ok := c.Lookup(title); ok {
		return body, nil
	}
	if !searchable(idx) {
		return domain.SentinelNotInitialized, nil
	}

	hits, err := idx.QueryK(ctx, title, DetailLookupK)
	if err != nil {
		return "", fmt.Errorf("detail search: %w", err)
	}

	prefix := title + domain.Separator
	for _, h := range hits {
		if text := h.Text(); strings.HasPrefix(text, prefix) {
			return text, nil
		}
	}
	return domain.NoDataSentinel(title), nil
}

// GetContext runs the two-stage retrieval for a task. Degraded outcomes are
// reported as sentinel strings; only embedding failures and cancellation
// return an error.
func (s *RAGService) GetContext(ctx context.Context, task string) (*domain.RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.get_context", telemetry.SpanAttributes{
		Operation: "get_context",
	})
	defer span.End()

	result := &domain.RetrievalResult{
		Query:           task,
		SearchResults:   []string{},
		DetailedContext: []domain.DetailedContext{},
	}
	result.Thoughts = append(result.Thoughts, "Getting context for task: "+task)

	search, err := s.SearchTitles(ctx, task)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	result.SearchResults = search.Results
	result.Supplementary = search.Supplementary
	result.Thoughts = append(result.Thoughts, fmt.Sprintf("Retrieved %d CTI results", len(search.Results)))

	for i := 0; i < len(search.Results) && i < DetailedContextCap; i++ {
		name, ok := search.title(i)
		if !ok {
			continue
		}
		detail, err := s.SearchDetail(ctx, name)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		result.DetailedContext = append(result.DetailedContext, domain.DetailedContext{
			Name:        name,
			Description: detail,
		})
		result.Thoughts = append(result.Thoughts, "Retrieved detail for: "+name)
	}

	return result, nil
}

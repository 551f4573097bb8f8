// Package index provides an in-memory cosine-similarity index over embedded
// intel records. An Index is built once and never mutated afterwards, so it
// is safe for concurrent queries.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultK           = 5
	DefaultBatchSize   = 256
	DefaultConcurrency = 4
)

// ErrDimensionMismatch is returned when a query embedding does not match the
// dimension of the indexed vectors.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is one ranked query result.
type Hit struct {
	Record   domain.IntelRecord
	Position int
	Score    float64
}

// Text returns the composite text of the hit.
func (h Hit) Text() string {
	return h.Record.CompositeText()
}

type options struct {
	k           int
	batchSize   int
	concurrency int
}

// Option configures Build.
type Option func(*options)

// WithK sets the default number of results returned by Query.
func WithK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.k = k
		}
	}
}

// WithBatchSize sets how many texts are sent per embedding call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of embedding calls in flight during Build.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Index ranks records by cosine similarity to a query embedding.
type Index struct {
	embedder Embedder
	k        int
	records  []domain.IntelRecord
	vecs     [][]float32
	mags     []float64
	dim      int
}

// Build embeds every record once and returns the ready index. An empty
// record set yields an index whose queries return nothing.
func Build(ctx context.Context, records []domain.IntelRecord, embedder Embedder, opts ...Option) (*Index, error) {
	o := options{k: DefaultK, batchSize: DefaultBatchSize, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	idx := &Index{
		embedder: embedder,
		k:        o.k,
		records:  append([]domain.IntelRecord(nil), records...),
	}
	if len(records) == 0 {
		return idx, nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.CompositeText()
	}

	vecs, err := embedBatched(ctx, embedder, texts, o.batchSize, o.concurrency)
	if err != nil {
		return nil, err
	}

	dim := len(vecs[0])
	mags := make([]float64, len(vecs))
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: record %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
		mags[i] = magnitude(v)
	}

	idx.vecs = vecs
	idx.mags = mags
	idx.dim = dim
	return idx, nil
}

func embedBatched(ctx context.Context, embedder Embedder, texts []string, batchSize, concurrency int) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed records %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of indexed records.
func (i *Index) Len() int {
	return len(i.records)
}

// K returns the default result count.
func (i *Index) K() int {
	return i.k
}

// Query returns up to K() hits for text.
func (i *Index) Query(ctx context.Context, text string) ([]Hit, error) {
	return i.QueryK(ctx, text, i.k)
}

// QueryK returns up to k hits for text, best match first. k <= 0 returns
// every scored record. Ties keep corpus order.
func (i *Index) QueryK(ctx context.Context, text string, k int) ([]Hit, error) {
	if len(i.vecs) == 0 {
		return nil, nil
	}

	vecs, err := i.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}
	return i.rank(vecs[0], k)
}

func (i *Index) rank(query []float32, k int) ([]Hit, error) {
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), i.dim)
	}
	qm := magnitude(query)
	if qm == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(i.vecs))
	for j, v := range i.vecs {
		if i.mags[j] == 0 {
			continue
		}
		s := dot(query, v) / (qm * i.mags[j])
		if math.IsNaN(s) {
			continue
		}
		hits = append(hits, Hit{Record: i.records[j], Position: j, Score: s})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})

	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 { return math.Sqrt(dot(v, v)) }

package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingCacheRepository stores embeddings keyed by model and text hash so
// that rebuilding an index over the same bundles does not re-embed them.
type EmbeddingCacheRepository struct {
	db dbtx
}

func NewEmbeddingCacheRepository(pool *pgxpool.Pool) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: pool}
}

func NewEmbeddingCacheRepositoryWithTx(tx pgx.Tx) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: tx}
}

func (r *EmbeddingCacheRepository) GetMany(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT text_hash, embedding FROM embedding_cache WHERE model = $1 AND text_hash = ANY($2)`,
		model, hashes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, err
		}
		out[hash] = vec.Slice()
	}
	return out, rows.Err()
}

func (r *EmbeddingCacheRepository) PutMany(ctx context.Context, model string, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for hash, vec := range entries {
		batch.Queue(
			`INSERT INTO embedding_cache (model, text_hash, embedding) VALUES ($1, $2, $3)
			 ON CONFLICT (model, text_hash) DO UPDATE SET embedding = EXCLUDED.embedding`,
			model, hash, pgvector.NewVector(vec),
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of cached embeddings for model.
func (r *EmbeddingCacheRepository) Count(ctx context.Context, model string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM embedding_cache WHERE model = $1`, model).Scan(&n)
	return n, err
}

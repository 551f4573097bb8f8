//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/cloo-solutions/ctirag/internal/openai"
	"github.com/cloo-solutions/ctirag/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCacheRepository_PutGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewEmbeddingCacheRepository(pool)
	h1 := openai.TextHash("Emotet | A banking trojan")
	h2 := openai.TextHash("Mimikatz | Credential dumper")

	require.NoError(t, repo.PutMany(ctx, "text-embedding-3-small", map[string][]float32{
		h1: {0.1, 0.2, 0.3},
		h2: {0.4, 0.5, 0.6},
	}))

	got, err := repo.GetMany(ctx, "text-embedding-3-small", []string{h1, h2, "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, got[h1], 1e-6)

	other, err := repo.GetMany(ctx, "text-embedding-3-large", []string{h1})
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, repo.PutMany(ctx, "text-embedding-3-small", map[string][]float32{h1: {1, 1, 1}}))
	got, err = repo.GetMany(ctx, "text-embedding-3-small", []string{h1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 1, 1}, got[h1], 1e-6)

	n, err := repo.Count(ctx, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEmbeddingCacheRepository_BacksCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	inner := testutil.NewKeywordEmbedder("banking", "trojan")
	cached := openai.NewCachedEmbedder(inner, NewEmbeddingCacheRepository(pool), "m", nil)

	texts := []string{"Emotet | banking trojan", "Dridex | banking malware"}
	first, err := cached.Embed(ctx, texts)
	require.NoError(t, err)
	second, err := cached.Embed(ctx, texts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls())
}

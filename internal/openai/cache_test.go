package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockEmbeddingCache struct {
	mock.Mock
}

func (m *MockEmbeddingCache) GetMany(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	args := m.Called(ctx, model, hashes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]float32), args.Error(1)
}

func (m *MockEmbeddingCache) PutMany(ctx context.Context, model string, entries map[string][]float32) error {
	args := m.Called(ctx, model, entries)
	return args.Error(0)
}

func TestCachedEmbedder_EmbedsOnlyMisses(t *testing.T) {
	next := new(MockEmbedder)
	cache := new(MockEmbeddingCache)
	e := NewCachedEmbedder(next, cache, "text-embedding-3-small", nil)

	texts := []string{"a | cached", "b | fresh"}
	hashes := []string{TextHash(texts[0]), TextHash(texts[1])}
	cachedVec := []float32{1, 0}
	freshVec := []float32{0, 1}

	cache.On("GetMany", mock.Anything, "text-embedding-3-small", hashes).
		Return(map[string][]float32{hashes[0]: cachedVec}, nil)
	next.On("Embed", mock.Anything, []string{"b | fresh"}).Return([][]float32{freshVec}, nil)
	cache.On("PutMany", mock.Anything, "text-embedding-3-small", map[string][]float32{hashes[1]: freshVec}).Return(nil)

	out, err := e.Embed(context.Background(), texts)

	require.NoError(t, err)
	assert.Equal(t, [][]float32{cachedVec, freshVec}, out)
	next.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestCachedEmbedder_AllHitsSkipsProvider(t *testing.T) {
	next := new(MockEmbedder)
	cache := new(MockEmbeddingCache)
	e := NewCachedEmbedder(next, cache, "m", nil)

	h := TextHash("x")
	cache.On("GetMany", mock.Anything, "m", []string{h}).Return(map[string][]float32{h: {1}}, nil)

	out, err := e.Embed(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}}, out)
	next.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "PutMany", mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedEmbedder_CacheFailuresAreIgnored(t *testing.T) {
	next := new(MockEmbedder)
	cache := new(MockEmbeddingCache)
	e := NewCachedEmbedder(next, cache, "m", nil)

	cache.On("GetMany", mock.Anything, "m", mock.Anything).Return(nil, errors.New("connection refused"))
	next.On("Embed", mock.Anything, []string{"x"}).Return([][]float32{{1}}, nil)
	cache.On("PutMany", mock.Anything, "m", mock.Anything).Return(errors.New("connection refused"))

	out, err := e.Embed(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}}, out)
}

func TestCachedEmbedder_ProviderErrorPropagates(t *testing.T) {
	next := new(MockEmbedder)
	cache := new(MockEmbeddingCache)
	e := NewCachedEmbedder(next, cache, "m", nil)

	providerErr := errors.New("quota exceeded")
	cache.On("GetMany", mock.Anything, "m", mock.Anything).Return(map[string][]float32{}, nil)
	next.On("Embed", mock.Anything, []string{"x"}).Return(nil, providerErr)

	_, err := e.Embed(context.Background(), []string{"x"})

	assert.ErrorIs(t, err, providerErr)
}

func TestTextHash_Stable(t *testing.T) {
	assert.Equal(t, TextHash("Emotet | banking trojan"), TextHash("Emotet | banking trojan"))
	assert.NotEqual(t, TextHash("a"), TextHash("b"))
	assert.Len(t, TextHash("a"), 64)
}

package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(pairs ...string) []domain.IntelRecord {
	out := make([]domain.IntelRecord, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.IntelRecord{Title: pairs[i], Body: pairs[i+1]})
	}
	return out
}

func texts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text()
	}
	return out
}

func TestBuild_EmptyCorpus(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking")

	idx, err := Build(context.Background(), nil, emb)
	require.NoError(t, err)

	hits, err := idx.Query(context.Background(), "banking")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, emb.Calls())
}

func TestBuild_EmbedsEachRecordOnce(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking", "trojan", "credential")
	recs := records("Emotet", "banking trojan", "Mimikatz", "credential dumper", "TrickBot", "banking trojan")

	idx, err := Build(context.Background(), recs, emb, WithBatchSize(2), WithConcurrency(1))
	require.NoError(t, err)

	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, emb.Calls())
	assert.Equal(t, []string{"Emotet | banking trojan", "Mimikatz | credential dumper", "TrickBot | banking trojan"}, emb.Texts())
}

func TestQuery_RanksByCosineWithInsertionTieBreak(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking", "trojan", "credential")
	recs := records(
		"Mimikatz", "credential dumper",
		"Emotet", "banking trojan",
		"TrickBot", "banking trojan",
		"Zeus", "banking",
	)

	idx, err := Build(context.Background(), recs, emb, WithK(3))
	require.NoError(t, err)

	hits, err := idx.Query(context.Background(), "banking trojan")
	require.NoError(t, err)

	require.Len(t, hits, 3)
	assert.Equal(t, []string{"Emotet | banking trojan", "TrickBot | banking trojan", "Zeus | banking"}, texts(hits))
	assert.Equal(t, 1, hits[0].Position)
	assert.Equal(t, 2, hits[1].Position)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Greater(t, hits[1].Score, hits[2].Score)
}

func TestQuery_ExcludesUnscoredRecords(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking", "credential")
	recs := records("Emotet", "banking", "Unrelated", "nothing in vocabulary", "Mimikatz", "credential")

	idx, err := Build(context.Background(), recs, emb)
	require.NoError(t, err)

	hits, err := idx.QueryK(context.Background(), "banking", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Emotet | banking", "Mimikatz | credential"}, texts(hits))
}

func TestQuery_ZeroQueryVectorReturnsNothing(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking")
	idx, err := Build(context.Background(), records("Emotet", "banking"), emb)
	require.NoError(t, err)

	hits, err := idx.Query(context.Background(), "unknown words")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQueryK_OverridesDefault(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("apt")
	var recs []domain.IntelRecord
	for i := 0; i < 12; i++ {
		recs = append(recs, domain.IntelRecord{Title: fmt.Sprintf("APT%d", i), Body: "apt group"})
	}

	idx, err := Build(context.Background(), recs, emb)
	require.NoError(t, err)

	def, err := idx.Query(context.Background(), "apt")
	require.NoError(t, err)
	wide, err := idx.QueryK(context.Background(), "apt", 10)
	require.NoError(t, err)

	assert.Len(t, def, DefaultK)
	assert.Len(t, wide, 10)
	assert.Equal(t, "APT0 | apt group", wide[0].Text())
	assert.Equal(t, "APT9 | apt group", wide[9].Text())
}

func TestQuery_Deterministic(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking", "trojan", "loader", "ransomware")
	recs := records(
		"Emotet", "banking trojan loader",
		"Ryuk", "ransomware",
		"TrickBot", "banking trojan",
		"Conti", "ransomware loader",
	)
	idx, err := Build(context.Background(), recs, emb)
	require.NoError(t, err)

	first, err := idx.Query(context.Background(), "trojan loader")
	require.NoError(t, err)
	second, err := idx.Query(context.Background(), "trojan loader")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuild_EmbedderError(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("x")
	emb.Err = errors.New("rate limit exceeded")

	_, err := Build(context.Background(), records("A", "x"), emb)

	require.Error(t, err)
	assert.ErrorIs(t, err, emb.Err)
}

func TestQuery_EmbedderErrorPropagates(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("x")
	idx, err := Build(context.Background(), records("A", "x"), emb)
	require.NoError(t, err)

	emb.Err = errors.New("unauthorized")
	_, err = idx.Query(context.Background(), "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed query")
}

func TestBuild_InconsistentDimensions(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("x")
	emb.Fixed["B | y"] = []float32{1, 2, 3}

	_, err := Build(context.Background(), records("A", "x", "B", "y"), emb)

	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQuery_DimensionMismatch(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("x")
	idx, err := Build(context.Background(), records("A", "x"), emb)
	require.NoError(t, err)

	emb.Fixed["odd"] = []float32{1, 2}
	_, err = idx.Query(context.Background(), "odd")

	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQuery_ConcurrentReaders(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("banking", "trojan")
	idx, err := Build(context.Background(), records("Emotet", "banking trojan", "Zeus", "banking"), emb)
	require.NoError(t, err)

	want, err := idx.Query(context.Background(), "banking")
	require.NoError(t, err)

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			got, err := idx.Query(context.Background(), "banking")
			if err == nil && !assert.ObjectsAreEqual(want, got) {
				err = errors.New("non-deterministic result")
			}
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}

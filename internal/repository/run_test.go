//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/pagination"
	"github.com/cloo-solutions/ctirag/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewRunRepository(pool)

	run, err := repo.StartRun(ctx, "CTI Execution")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	require.NoError(t, domain.ValidateRun(run))

	require.NoError(t, repo.SetTag(ctx, run.ID, "stage", "initializing"))
	require.NoError(t, repo.SetTag(ctx, run.ID, "stage", "complete"))
	require.NoError(t, repo.LogParam(ctx, run.ID, "prompt", "emulate emotet"))
	require.NoError(t, repo.LogParam(ctx, run.ID, "prompt", "overwritten"))
	require.NoError(t, repo.EndRun(ctx, run.ID, domain.RunStatusFinished))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, got.Status)
	assert.Equal(t, "complete", got.Tag("stage"))
	assert.Equal(t, "emulate emotet", got.Param("prompt"))
	require.NotNil(t, got.EndedAt)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
}

func TestRunRepository_MissingRun(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewRunRepository(pool)

	_, err := repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.ErrorIs(t, repo.SetTag(ctx, "missing", "k", "v"), domain.ErrRunNotFound)
	assert.ErrorIs(t, repo.LogParam(ctx, "missing", "k", "v"), domain.ErrRunNotFound)
	assert.ErrorIs(t, repo.EndRun(ctx, "missing", domain.RunStatusFailed), domain.ErrRunNotFound)
}

func TestRunRepository_ListRunsWithCursor(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()
	require.NoError(t, testutil.TruncateAll(ctx, pool))

	repo := NewRunRepository(pool)
	ids := make(map[string]bool)
	for i := range 5 {
		run, err := repo.StartRun(ctx, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		require.NoError(t, repo.SetTag(ctx, run.ID, "stage", "initializing"))
		ids[run.ID] = true
	}

	first, err := repo.ListRuns(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "initializing", first.Items[0].Tag("stage"))

	cursor, err := pagination.DecodeCursor(first.NextCursor)
	require.NoError(t, err)

	second, err := repo.ListRuns(ctx, cursor, 3)
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextCursor)

	seen := make(map[string]bool)
	for _, r := range append(first.Items, second.Items...) {
		assert.False(t, seen[r.ID], "run listed twice")
		seen[r.ID] = true
	}
	assert.Equal(t, ids, seen)

	for i := 1; i < len(first.Items); i++ {
		assert.False(t, first.Items[i].StartedAt.After(first.Items[i-1].StartedAt))
	}
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/pagination"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunRepository stores execution runs with their tags and params.
type RunRepository struct {
	db dbtx
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: pool}
}

func NewRunRepositoryWithTx(tx pgx.Tx) *RunRepository {
	return &RunRepository{db: tx}
}

func (r *RunRepository) StartRun(ctx context.Context, name string) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    domain.RunStatusRunning,
		Tags:      map[string]string{},
		Params:    map[string]string{},
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO runs (id, name, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Name, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) SetTag(ctx context.Context, runID, key, value string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO run_tags (run_id, key, value, updated_at)
		 SELECT $1, $2, $3, now() WHERE EXISTS (SELECT 1 FROM runs WHERE id = $1)
		 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		runID, key, value,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// LogParam records a param once. Later writes of the same key are ignored.
func (r *RunRepository) LogParam(ctx context.Context, runID, key, value string) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO run_params (run_id, key, value)
		 SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM runs WHERE id = $1)
		 ON CONFLICT (run_id, key) DO NOTHING`,
		runID, key, value,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.ensureRun(ctx, runID)
}

func (r *RunRepository) ensureRun(ctx context.Context, runID string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) EndRun(ctx context.Context, runID string, status domain.RunStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE runs SET status = $2, ended_at = $3 WHERE id = $1`,
		runID, status, time.Now().UTC().Truncate(time.Microsecond),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	err := r.db.QueryRow(ctx,
		`SELECT id, name, status, started_at, ended_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Name, &run.Status, &run.StartedAt, &run.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}

	runs := []*domain.Run{&run}
	if err := r.attachKeyValues(ctx, runs); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.RunPageResult, error) {
	if limit <= 0 {
		limit = service.DefaultRunPageSize
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, name, status, started_at, ended_at
			 FROM runs
			 WHERE (started_at, id) < ($1, $2)
			 ORDER BY started_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, name, status, started_at, ended_at
			 FROM runs
			 ORDER BY started_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.Name, &run.Status, &run.StartedAt, &run.EndedAt); err != nil {
			return nil, err
		}
		items = append(items, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	if err := r.attachKeyValues(ctx, items); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.StartedAt)
	}

	return &service.RunPageResult{Items: items, NextCursor: nextCursor, HasMore: hasMore}, nil
}

// attachKeyValues loads tags and params for runs with one query per table.
func (r *RunRepository) attachKeyValues(ctx context.Context, runs []*domain.Run) error {
	if len(runs) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Run, len(runs))
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		run.Tags = map[string]string{}
		run.Params = map[string]string{}
		byID[run.ID] = run
		ids = append(ids, run.ID)
	}

	load := func(query string, target func(*domain.Run) map[string]string) error {
		rows, err := r.db.Query(ctx, query, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var runID, key, value string
			if err := rows.Scan(&runID, &key, &value); err != nil {
				return err
			}
			if run, ok := byID[runID]; ok {
				target(run)[key] = value
			}
		}
		return rows.Err()
	}

	if err := load(`SELECT run_id, key, value FROM run_tags WHERE run_id = ANY($1)`,
		func(run *domain.Run) map[string]string { return run.Tags }); err != nil {
		return err
	}
	return load(`SELECT run_id, key, value FROM run_params WHERE run_id = ANY($1)`,
		func(run *domain.Run) map[string]string { return run.Params })
}

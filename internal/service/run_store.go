package service

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/pagination"
)

// RunStore is the telemetry sink executions report into. Tags may be
// overwritten; params are write-once and a second write is ignored.
type RunStore interface {
	StartRun(ctx context.Context, name string) (*domain.Run, error)
	SetTag(ctx context.Context, runID, key, value string) error
	LogParam(ctx context.Context, runID, key, value string) error
	EndRun(ctx context.Context, runID string, status domain.RunStatus) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, cursor *pagination.Cursor, limit int) (*RunPageResult, error)
}

type RunPageResult struct {
	Items      []*domain.Run
	NextCursor string
	HasMore    bool
}

const DefaultRunPageSize = 20

// MemoryRunStore keeps runs in process memory. Used when no database is
// configured and in tests.
type MemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Run
	uuidGen UUIDGenerator
	now     func() time.Time
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:    make(map[string]*domain.Run),
		uuidGen: &DefaultUUIDGenerator{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryRunStore) StartRun(ctx context.Context, name string) (*domain.Run, error) {
	run := &domain.Run{
		ID:        s.uuidGen.NewString(),
		Name:      name,
		Status:    domain.RunStatusRunning,
		Tags:      map[string]string{},
		Params:    map[string]string{},
		StartedAt: s.now(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return copyRun(run), nil
}

func (s *MemoryRunStore) SetTag(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Tags[key] = value
	return nil
}

func (s *MemoryRunStore) LogParam(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if _, exists := run.Params[key]; !exists {
		run.Params[key] = value
	}
	return nil
}

func (s *MemoryRunStore) EndRun(ctx context.Context, runID string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	ended := s.now()
	run.Status = status
	run.EndedAt = &ended
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first, keyed by (StartedAt, ID) like the
// database store.
func (s *MemoryRunStore) ListRuns(ctx context.Context, cursor *pagination.Cursor, limit int) (*RunPageResult, error) {
	if limit <= 0 {
		limit = DefaultRunPageSize
	}

	s.mu.RLock()
	all := make([]*domain.Run, 0, len(s.runs))
	for _, r := range s.runs {
		all = append(all, copyRun(r))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return runBefore(all[i], all[j].StartedAt, all[j].ID)
	})

	items := make([]*domain.Run, 0, limit+1)
	for _, r := range all {
		if cursor != nil && !runBefore(r, cursor.Timestamp, cursor.LastID) {
			continue
		}
		items = append(items, r)
		if len(items) > limit {
			break
		}
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var next string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		next = pagination.EncodeCursor(last.ID, last.StartedAt)
	}

	return &RunPageResult{Items: items, NextCursor: next, HasMore: hasMore}, nil
}

// runBefore reports whether r sorts before (ts, id) in newest-first order.
func runBefore(r *domain.Run, ts time.Time, id string) bool {
	if !r.StartedAt.Equal(ts) {
		return r.StartedAt.After(ts)
	}
	return r.ID > id
}

func copyRun(r *domain.Run) *domain.Run {
	c := *r
	c.Tags = maps.Clone(r.Tags)
	c.Params = maps.Clone(r.Params)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

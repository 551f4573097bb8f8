package domain

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of an execution run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
)

// Focus selects the pipeline an execution runs through
type Focus string

const (
	FocusFactory    Focus = "factory"
	FocusPlanner    Focus = "planner"
	FocusRAGPlanner Focus = "rag_planner"
	FocusRAGFactory Focus = "rag_factory"
)

// ParseFocus validates a focus string. Empty defaults to factory.
func ParseFocus(s string) (Focus, error) {
	if s == "" {
		return FocusFactory, nil
	}
	f := Focus(s)
	switch f {
	case FocusFactory, FocusPlanner, FocusRAGPlanner, FocusRAGFactory:
		return f, nil
	}
	return "", ErrInvalidFocus.Wrap(fmt.Errorf("unknown focus %q", s))
}

// UsesRAG reports whether the focus requests retrieval on its own.
func (f Focus) UsesRAG() bool {
	return f == FocusRAGPlanner || f == FocusRAGFactory
}

// IsPlanner reports whether the focus runs the planner pipeline.
func (f Focus) IsPlanner() bool {
	return f == FocusPlanner || f == FocusRAGPlanner
}

// Run is one tracked execution. Tags are overwritable; params are
// write-once.
type Run struct {
	ID        string
	Name      string
	Status    RunStatus
	Tags      map[string]string
	Params    map[string]string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Tag returns the tag value or "".
func (r *Run) Tag(key string) string {
	if r == nil || r.Tags == nil {
		return ""
	}
	return r.Tags[key]
}

// Param returns the param value or "".
func (r *Run) Param(key string) string {
	if r == nil || r.Params == nil {
		return ""
	}
	return r.Params[key]
}

func isValidRunStatus(s RunStatus) bool {
	switch s {
	case RunStatusRunning, RunStatusFinished, RunStatusFailed:
		return true
	}
	return false
}

// ValidateRun validates a Run instance
func ValidateRun(r *Run) error {
	if r == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if !isValidRunStatus(r.Status) {
		return fmt.Errorf("run Status is invalid: %s", r.Status)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("run StartedAt is required")
	}
	return nil
}

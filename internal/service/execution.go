package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/cloo-solutions/ctirag/internal/index"
	"github.com/cloo-solutions/ctirag/internal/jobs"
	"github.com/cloo-solutions/ctirag/internal/pagination"
	"github.com/cloo-solutions/ctirag/internal/telemetry"
	"go.uber.org/zap"
)

const (
	RunName = "CTI Execution"

	RAGToolName = "get_context_for_task"

	tagValueLimit      = 5000
	contextPreviewSize = 1000
	resultSummarySize  = 250
)

// Planner turns a task and optional formatted CTI context into a plan.
type Planner interface {
	Plan(ctx context.Context, task, ctiContext string) (string, error)
}

// EmbedderFactory returns an embedder for model. It fails with
// domain.ErrMissingCredential when no provider credential is configured.
type EmbedderFactory func(model string) (index.Embedder, error)

// Submitter runs jobs in the background.
type Submitter interface {
	Submit(job jobs.Job) error
}

// BundleLoader loads stored bundles by file name.
type BundleLoader interface {
	LoadBundles(ctx context.Context, names []string) ([]*domain.Bundle, error)
}

// ExecuteInput is one execution request.
type ExecuteInput struct {
	Focus      string
	Prompt     string
	RAGFiles   []string
	RAGTopK    int
	EmbedModel string
}

// ExecutionStatus is the externally visible state of a run.
type ExecutionStatus struct {
	RunID         string            `json:"run_id"`
	Status        domain.RunStatus  `json:"status"`
	Stage         string            `json:"stage"`
	Prompt        string            `json:"prompt"`
	ProcessResult string            `json:"process_result"`
	Error         string            `json:"error,omitempty"`
	Retrieval     map[string]string `json:"retrieval,omitempty"`
}

// ExecutionService starts runs and carries them out on a worker pool,
// reporting every step into the run store.
type ExecutionService struct {
	runs      RunStore
	bundles   BundleLoader
	embedders EmbedderFactory
	planner   Planner
	submitter Submitter
	opts      RAGOptions
	logger    *zap.Logger
}

func NewExecutionService(
	runs RunStore,
	bundles BundleLoader,
	embedders EmbedderFactory,
	planner Planner,
	submitter Submitter,
	opts RAGOptions,
	logger *zap.Logger,
) *ExecutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionService{
		runs:      runs,
		bundles:   bundles,
		embedders: embedders,
		planner:   planner,
		submitter: submitter,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Execute starts a run and queues its job. It returns the run id without
// waiting for the job.
func (s *ExecutionService) Execute(ctx context.Context, in ExecuteInput) (string, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return "", domain.ErrMissingRequiredField.Wrap(errors.New("text is required"))
	}
	focus, err := domain.ParseFocus(in.Focus)
	if err != nil {
		return "", err
	}
	if in.RAGTopK < 0 {
		return "", domain.ErrInvalidTopK
	}
	if s.planner == nil {
		return "", domain.ErrMissingCredential.Wrap(errors.New("planner requires an OpenAI API key"))
	}

	run, err := s.runs.StartRun(ctx, RunName)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	job := func(jobCtx context.Context) {
		s.run(jobCtx, run.ID, focus, in)
	}
	if err := s.submitter.Submit(job); err != nil {
		_ = s.runs.SetTag(ctx, run.ID, "stage", "error")
		_ = s.runs.LogParam(ctx, run.ID, "error", err.Error())
		_ = s.runs.EndRun(ctx, run.ID, domain.RunStatusFailed)
		return "", fmt.Errorf("failed to queue execution: %w", err)
	}

	s.logger.Info("execution queued",
		zap.String("run_id", run.ID),
		zap.String("focus", string(focus)),
		zap.Int("rag_files", len(in.RAGFiles)))
	return run.ID, nil
}

func (s *ExecutionService) run(ctx context.Context, runID string, focus domain.Focus, in ExecuteInput) {
	ctx, span := telemetry.StartSpan(ctx, "execution.run", telemetry.SpanAttributes{
		RunID: runID,
		Focus: string(focus),
	})
	defer span.End()

	logger := s.logger.With(zap.String("run_id", runID))
	s.stage(ctx, runID, "initializing")
	s.param(ctx, runID, "prompt", in.Prompt)

	useRAG := focus.UsesRAG() || len(in.RAGFiles) > 0
	var retrieval *domain.RetrievalResult
	if useRAG && len(in.RAGFiles) > 0 {
		s.stage(ctx, runID, "retrieving")
		r, err := s.retrieve(ctx, runID, in)
		if err != nil {
			logger.Warn("rag retrieval failed, continuing without context", zap.Error(err))
			s.tag(ctx, runID, "rag_error", err.Error())
		}
		retrieval = r
	}

	var ctiContext string
	if retrieval != nil {
		ctiContext = FormatContext(retrieval)
		s.param(ctx, runID, "cti_context_preview", Truncate(ctiContext, contextPreviewSize))
		s.tag(ctx, runID, "cti_context_length", strconv.Itoa(len([]rune(ctiContext))))
		s.tag(ctx, runID, "cti_search_results_count", strconv.Itoa(len(retrieval.SearchResults)))
		s.tag(ctx, runID, "cti_detailed_context_count", strconv.Itoa(len(retrieval.DetailedContext)))
	}

	pipeline := "factory"
	if focus.IsPlanner() {
		pipeline = "planner"
	}
	s.tag(ctx, runID, "pipeline", pipeline)
	s.stage(ctx, runID, "planning")
	logger.Info("running pipeline", zap.String("pipeline", pipeline), zap.Bool("rag", useRAG))

	result, err := s.planner.Plan(ctx, in.Prompt, ctiContext)
	if err != nil {
		err = domain.ErrPlannerFailed.Wrap(err)
		span.SetError(err)
		telemetry.CaptureError(ctx, err)
		logger.Error("execution failed", zap.Error(err))
		s.stage(ctx, runID, "error")
		s.tag(ctx, runID, "status", "error")
		s.param(ctx, runID, "error", err.Error())
		s.end(runID, domain.RunStatusFailed)
		return
	}

	s.stage(ctx, runID, "complete")
	s.tag(ctx, runID, "status", "success")
	if result != "" {
		s.tag(ctx, runID, "process_result", result)
		s.tag(ctx, runID, "process_result_summary", Truncate(result, resultSummarySize))
	}
	s.end(runID, domain.RunStatusFinished)
	logger.Info("execution complete")
}

// PreviewInput selects bundles and options for a synchronous retrieval.
type PreviewInput struct {
	Query      string
	RAGFiles   []string
	TopK       int
	EmbedModel string
}

// ContextPreview is a retrieval result with its formatted context.
type ContextPreview struct {
	*domain.RetrievalResult
	Context string `json:"context"`
	Records int    `json:"records"`
}

// PreviewContext runs the retrieval an execution would run, without
// starting a run or calling the planner.
func (s *ExecutionService) PreviewContext(ctx context.Context, in PreviewInput) (*ContextPreview, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, domain.ErrMissingRequiredField.Wrap(errors.New("query is required"))
	}
	if len(in.RAGFiles) == 0 {
		return nil, domain.ErrMissingRequiredField.Wrap(errors.New("rag_files is required"))
	}
	if in.TopK < 0 {
		return nil, domain.ErrInvalidTopK
	}
	result, records, err := s.retrieveFor(ctx, in)
	if err != nil {
		return nil, err
	}
	return &ContextPreview{
		RetrievalResult: result,
		Context:         FormatContext(result),
		Records:         records,
	}, nil
}

// retrieveFor builds a fresh index over the requested files and runs the
// two-stage retrieval for the query.
func (s *ExecutionService) retrieveFor(ctx context.Context, in PreviewInput) (*domain.RetrievalResult, int, error) {
	model := in.EmbedModel
	if model == "" {
		model = s.opts.EmbedModel
	}
	if s.embedders == nil {
		return nil, 0, domain.ErrMissingCredential
	}
	embedder, err := s.embedders(model)
	if err != nil {
		return nil, 0, err
	}
	if s.bundles == nil {
		return nil, 0, domain.ErrNoBundleStore
	}
	bundles, err := s.bundles.LoadBundles(ctx, in.RAGFiles)
	if err != nil {
		return nil, 0, err
	}

	opts := s.opts
	opts.EmbedModel = model
	if in.TopK > 0 {
		opts.TopK = in.TopK
	}
	rag := NewRAGService(embedder, opts, s.logger)
	if err := rag.InitializeFromBundles(ctx, bundles); err != nil {
		return nil, 0, err
	}

	result, err := rag.GetContext(ctx, in.Query)
	if err != nil {
		return nil, 0, err
	}
	return result, rag.Len(), nil
}

// retrieve runs the retrieval for an execution and records each step on
// the run.
func (s *ExecutionService) retrieve(ctx context.Context, runID string, in ExecuteInput) (*domain.RetrievalResult, error) {
	result, records, err := s.retrieveFor(ctx, PreviewInput{
		Query:      in.Prompt,
		RAGFiles:   in.RAGFiles,
		TopK:       in.RAGTopK,
		EmbedModel: in.EmbedModel,
	})
	if err != nil {
		return nil, err
	}

	for i, thought := range result.Thoughts {
		s.tag(ctx, runID, fmt.Sprintf("rag_retrieval_step_%d", i), thought)
	}
	for i, name := range result.ObjectNames() {
		s.tag(ctx, runID, fmt.Sprintf("rag_retrieved_object_%d", i), name)
	}
	if len(result.Supplementary) > 0 {
		s.tag(ctx, runID, "rag_supplementary_titles", strings.Join(result.Supplementary, ", "))
	}
	s.tag(ctx, runID, "rag_tool_name", RAGToolName)
	args, _ := json.Marshal(map[string]any{"query": in.Prompt, "rag_files": in.RAGFiles})
	s.tag(ctx, runID, "rag_tool_args", string(args))

	s.logger.Info("rag retrieved cti objects",
		zap.String("run_id", runID),
		zap.Int("records", records),
		zap.Int("results", len(result.SearchResults)))
	return result, nil
}

func (s *ExecutionService) tag(ctx context.Context, runID, key, value string) {
	if err := s.runs.SetTag(ctx, runID, key, Truncate(value, tagValueLimit)); err != nil {
		s.logger.Warn("failed to set run tag", zap.String("run_id", runID), zap.String("key", key), zap.Error(err))
	}
}

// stage records progress on the run and as a Sentry breadcrumb.
func (s *ExecutionService) stage(ctx context.Context, runID, stage string) {
	telemetry.AddBreadcrumb(ctx, "execution", stage)
	s.tag(ctx, runID, "stage", stage)
}

func (s *ExecutionService) param(ctx context.Context, runID, key, value string) {
	if err := s.runs.LogParam(ctx, runID, key, Truncate(value, tagValueLimit)); err != nil {
		s.logger.Warn("failed to log run param", zap.String("run_id", runID), zap.String("key", key), zap.Error(err))
	}
}

// end closes the run even when the job context is already cancelled.
func (s *ExecutionService) end(runID string, status domain.RunStatus) {
	if err := s.runs.EndRun(context.Background(), runID, status); err != nil {
		s.logger.Error("failed to end run", zap.String("run_id", runID), zap.Error(err))
	}
}

// Status reports the state of a run.
func (s *ExecutionService) Status(ctx context.Context, runID string) (*ExecutionStatus, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return statusOf(run), nil
}

func statusOf(run *domain.Run) *ExecutionStatus {
	st := &ExecutionStatus{
		RunID:         run.ID,
		Status:        run.Status,
		Stage:         run.Tag("stage"),
		Prompt:        run.Param("prompt"),
		ProcessResult: run.Tag("process_result"),
		Error:         run.Param("error"),
		Retrieval:     map[string]string{},
	}
	for k, v := range run.Tags {
		if strings.HasPrefix(k, "rag_") || strings.HasPrefix(k, "cti_") {
			st.Retrieval[k] = v
		}
	}
	for k, v := range run.Params {
		if strings.HasPrefix(k, "cti_") {
			st.Retrieval[k] = v
		}
	}
	return st
}

// ListRuns pages through runs, newest first.
func (s *ExecutionService) ListRuns(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*ExecutionStatus], error) {
	c, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	page, err := s.runs.ListRuns(ctx, c, pagination.ClampLimit(limit, DefaultRunPageSize))
	if err != nil {
		return nil, err
	}
	out := &pagination.PageResult[*ExecutionStatus]{
		Items:   make([]*ExecutionStatus, 0, len(page.Items)),
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}
	for _, r := range page.Items {
		out.Items = append(out.Items, statusOf(r))
	}
	return out, nil
}

// Package engine is the facade external callers use: run a pipeline by
// name, poll jobs, end sessions. Request-handling code outside the core
// never touches the executor or tracker directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/job"
	"github.com/notesmith-ai/notesmith/pipelines"
)

type Engine struct {
	executor  *flow.Executor
	tracker   *job.Tracker
	pipelines map[string]*flow.Pipeline
	logger    *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(executor *flow.Executor, tracker *job.Tracker, registered map[string]*flow.Pipeline, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("job tracker is required")
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("at least one pipeline is required")
	}
	e := &Engine{
		executor:  executor,
		tracker:   tracker,
		pipelines: registered,
		logger:    slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunOptions scope one invocation. ModelOverride names a provider id for
// this run only; it never changes process-wide configuration.
type RunOptions struct {
	SessionID     string
	ModelOverride string
}

// Result is what a caller gets back: the final state fields, and the job id
// when the run handed work off to the queue.
type Result struct {
	Pipeline string
	RunID    string
	Fields   map[string]any
	JobID    string
}

// Run executes the named pipeline over the initial fields.
func (e *Engine) Run(ctx context.Context, pipelineName string, initial map[string]any, opts RunOptions) (*Result, error) {
	p, ok := e.pipelines[pipelineName]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (available: %s)",
			pipelineName, strings.Join(e.Pipelines(), ", "))
	}

	st := flow.NewState(initial)
	st.SessionID = opts.SessionID
	if opts.ModelOverride != "" {
		st.Set(pipelines.FieldModelOverride, opts.ModelOverride)
	}

	result, err := e.executor.Run(ctx, p, st)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("pipeline run finished",
		"pipeline", pipelineName, "run_id", result.State.RunID, "job_id", result.JobID)
	return &Result{
		Pipeline: pipelineName,
		RunID:    result.State.RunID,
		Fields:   result.State.Fields,
		JobID:    result.JobID,
	}, nil
}

// JobStatus returns the job record verbatim for polling callers.
func (e *Engine) JobStatus(ctx context.Context, jobID string) (job.Job, error) {
	return e.tracker.Status(ctx, jobID)
}

// CancelJob withdraws a job that the worker has not claimed yet.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	return e.tracker.Cancel(ctx, jobID)
}

// EndSession deletes a session's checkpoint, discarding its history.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	return e.executor.DeleteCheckpoint(ctx, sessionID)
}

// Pipelines lists the registered pipeline names in stable order.
func (e *Engine) Pipelines() []string {
	names := make([]string, 0, len(e.pipelines))
	for name := range e.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

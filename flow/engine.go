package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notesmith-ai/notesmith/job"
	"github.com/notesmith-ai/notesmith/observe"
	"github.com/notesmith-ai/notesmith/runtime/queue"
	"github.com/notesmith-ai/notesmith/state"
)

const checkpointPrefix = "checkpoint:"

// Result is the outcome of one pipeline run: the final state, plus the job
// id when an async step handed work off to the queue.
type Result struct {
	State *State
	JobID string
}

// Executor runs compiled pipelines. Runs for different sessions proceed
// independently; runs for the same resumable session are serialized so
// checkpoint writes never race.
type Executor struct {
	store    state.Store
	tracker  *job.Tracker
	queue    queue.Queue
	observer observe.Sink
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ExecutorOption func(*Executor)

// WithJobs wires the tracker and queue that async steps hand work off to.
func WithJobs(tracker *job.Tracker, workQueue queue.Queue) ExecutorOption {
	return func(e *Executor) {
		e.tracker = tracker
		e.queue = workQueue
	}
}

func WithExecutorObserver(observer observe.Sink) ExecutorOption {
	return func(e *Executor) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExecutor(store state.Store, opts ...ExecutorOption) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	e := &Executor{
		store:    store,
		observer: observe.NoopSink{},
		logger:   slog.Default().With("component", "flow"),
		locks:    map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the pipeline over the initial state. For resumable pipelines
// with a session id, the stored checkpoint seeds the state and the caller's
// initial fields are laid on top; a checkpoint is written only when the run
// succeeds, so the last good checkpoint stays authoritative after a failure.
func (e *Executor) Run(ctx context.Context, p *Pipeline, initial *State) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if p.hasAsync && (e.tracker == nil || e.queue == nil) {
		return nil, fmt.Errorf("pipeline %q has async steps but the executor has no tracker and queue", p.name)
	}
	if initial == nil {
		initial = NewState(nil)
	}

	if p.resumable && initial.SessionID != "" {
		lock := e.sessionLock(initial.SessionID)
		lock.Lock()
		defer lock.Unlock()
	}

	st := &State{
		SessionID: initial.SessionID,
		RunID:     uuid.NewString(),
		Fields:    map[string]any{},
	}
	if p.resumable && st.SessionID != "" {
		checkpoint, err := e.loadCheckpoint(ctx, st.SessionID)
		if err != nil {
			return nil, err
		}
		if checkpoint != nil {
			maps.Copy(st.Fields, checkpoint.Fields)
		}
	}
	maps.Copy(st.Fields, initial.Fields)

	runStart := time.Now()
	e.emitRun(ctx, p, st, observe.StatusStarted, 0, nil)
	e.logger.Debug("run started", "pipeline", p.name, "run_id", st.RunID, "session_id", st.SessionID)

	result, err := e.execute(ctx, p, st)
	if err != nil {
		e.emitRun(ctx, p, st, observe.StatusFailed, time.Since(runStart), err)
		e.logger.Warn("run failed", "pipeline", p.name, "run_id", st.RunID, "error", err)
		return nil, err
	}

	if p.resumable && st.SessionID != "" {
		if err := e.saveCheckpoint(ctx, p, st); err != nil {
			e.emitRun(ctx, p, st, observe.StatusFailed, time.Since(runStart), err)
			return nil, err
		}
	}
	e.emitRun(ctx, p, st, observe.StatusCompleted, time.Since(runStart), nil)
	e.logger.Debug("run completed", "pipeline", p.name, "run_id", st.RunID,
		"duration_ms", time.Since(runStart).Milliseconds())
	return result, nil
}

func (e *Executor) execute(ctx context.Context, p *Pipeline, st *State) (*Result, error) {
	result := &Result{State: st}
	pos := 0
	for pos < len(p.order) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := p.steps[p.order[pos]]
		stepStart := time.Now()

		if step.Run != nil {
			if err := step.Run(ctx, st); err != nil {
				wrapped := stepError(step.Name, err)
				e.emitStep(ctx, p, st, step.Name, observe.StatusFailed, time.Since(stepStart), wrapped)
				return nil, wrapped
			}
		}
		if step.Async != nil {
			jobID, err := e.handoff(ctx, step, st)
			if err != nil {
				wrapped := stepError(step.Name, err)
				e.emitStep(ctx, p, st, step.Name, observe.StatusFailed, time.Since(stepStart), wrapped)
				return nil, wrapped
			}
			result.JobID = jobID
		}
		e.emitStep(ctx, p, st, step.Name, observe.StatusCompleted, time.Since(stepStart), nil)

		if step.Branch != nil {
			target := step.Branch(st)
			switch target {
			case End:
				return result, nil
			case "":
				pos++
			default:
				next, err := p.positionOf(target, pos)
				if err != nil {
					wrapped := stepError(step.Name, err)
					e.emitStep(ctx, p, st, step.Name, observe.StatusFailed, time.Since(stepStart), wrapped)
					return nil, wrapped
				}
				// Steps between the branch and its target are skipped.
				for skipped := pos + 1; skipped < next; skipped++ {
					e.emitStep(ctx, p, st, p.steps[p.order[skipped]].Name, observe.StatusSkipped, 0, nil)
				}
				pos = next
			}
			continue
		}
		pos++
	}
	return result, nil
}

// positionOf maps a branch target name to its slot in the execution order.
// Compile already proved targets exist downstream; the check here guards
// against a branch func returning a name outside its declared targets.
func (p *Pipeline) positionOf(target string, after int) (int, error) {
	idx, ok := p.index[target]
	if !ok {
		return 0, fmt.Errorf("branch selected unknown step %q", target)
	}
	for pos := after + 1; pos < len(p.order); pos++ {
		if p.order[pos] == idx {
			return pos, nil
		}
	}
	return 0, fmt.Errorf("branch selected step %q that is not downstream", target)
}

// handoff records a job and enqueues the work item. The run does not wait
// for the worker; callers poll the tracker with the returned id.
func (e *Executor) handoff(ctx context.Context, step Step, st *State) (string, error) {
	spec := step.Async
	inputRef := ""
	if spec.InputRef != nil {
		inputRef = spec.InputRef(st)
	}
	jobID, err := e.tracker.Create(ctx, spec.JobKind, inputRef)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	var payload map[string]any
	if spec.Payload != nil {
		payload = spec.Payload(st)
	}
	if _, err := e.queue.Enqueue(ctx, queue.Item{
		JobID:      jobID,
		Kind:       spec.JobKind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		// The pending job stays visible; the caller sees the enqueue failure.
		return "", fmt.Errorf("failed to enqueue work for job %q: %w", jobID, err)
	}

	field := spec.OutputField
	if field == "" {
		field = "job_id"
	}
	st.Set(field, jobID)
	e.emitJob(ctx, st, jobID, spec.JobKind)
	return jobID, nil
}

func (e *Executor) loadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var checkpoint Checkpoint
	err := state.GetJSON(ctx, e.store, checkpointPrefix+sessionID, &checkpoint)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for session %q: %w", sessionID, err)
	}
	return &checkpoint, nil
}

func (e *Executor) saveCheckpoint(ctx context.Context, p *Pipeline, st *State) error {
	checkpoint, err := st.snapshot(p.name, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := state.PutJSON(ctx, e.store, state.KindCheckpoint, checkpointPrefix+st.SessionID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint for session %q: %w", st.SessionID, err)
	}
	_ = e.observer.Emit(ctx, observe.Event{
		Kind:      observe.KindCheckpoint,
		Status:    observe.StatusCompleted,
		RunID:     st.RunID,
		SessionID: st.SessionID,
		Pipeline:  p.name,
	})
	return nil
}

// DeleteCheckpoint removes a session's stored state, ending its history.
func (e *Executor) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	if err := e.store.Delete(ctx, checkpointPrefix+sessionID); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("failed to delete checkpoint for session %q: %w", sessionID, err)
	}
	return nil
}

func (e *Executor) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

func (e *Executor) emitRun(ctx context.Context, p *Pipeline, st *State, status observe.Status, d time.Duration, err error) {
	event := observe.Event{
		Kind:       observe.KindRun,
		Status:     status,
		RunID:      st.RunID,
		SessionID:  st.SessionID,
		Pipeline:   p.name,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = e.observer.Emit(ctx, event)
}

func (e *Executor) emitStep(ctx context.Context, p *Pipeline, st *State, step string, status observe.Status, d time.Duration, err error) {
	event := observe.Event{
		Kind:       observe.KindStep,
		Status:     status,
		RunID:      st.RunID,
		SessionID:  st.SessionID,
		Pipeline:   p.name,
		Step:       step,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = e.observer.Emit(ctx, event)
}

func (e *Executor) emitJob(ctx context.Context, st *State, jobID, kind string) {
	_ = e.observer.Emit(ctx, observe.Event{
		Kind:   observe.KindJob,
		Status: observe.StatusStarted,
		RunID:  st.RunID,
		JobID:  jobID,
		Name:   "job.enqueued",
		Attributes: map[string]any{
			"kind": kind,
		},
	})
}

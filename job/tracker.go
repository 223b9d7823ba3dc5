package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notesmith-ai/notesmith/observe"
	"github.com/notesmith-ai/notesmith/state"
)

const recordPrefix = "job:"

// Tracker persists jobs through the record store and enforces the lifecycle.
// A single mutex guards load-validate-save so concurrent Status readers never
// observe a half-applied transition.
type Tracker struct {
	store    state.Store
	observer observe.Sink
	logger   *slog.Logger
	mu       sync.Mutex
}

type TrackerOption func(*Tracker)

func WithObserver(observer observe.Sink) TrackerOption {
	return func(t *Tracker) {
		if observer != nil {
			t.observer = observer
		}
	}
}

func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(store state.Store, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	t := &Tracker{
		store:    store,
		observer: observe.NoopSink{},
		logger:   slog.Default().With("component", "job-tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Create persists a pending job and returns its id immediately. The caller
// does not wait for any work to happen.
func (t *Tracker) Create(ctx context.Context, kind, inputRef string) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", fmt.Errorf("job kind is required")
	}
	now := time.Now().UTC()
	j := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		InputRef:  inputRef,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := state.PutJSON(ctx, t.store, state.KindJob, recordPrefix+j.ID, j); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}
	t.emit(ctx, j, observe.StatusStarted, "job.created")
	t.logger.Debug("job created", "job_id", j.ID, "kind", kind)
	return j.ID, nil
}

// Start moves a pending job to running.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, StatusRunning, func(j *Job) {})
}

// Complete settles a running job with its output reference.
func (t *Tracker) Complete(ctx context.Context, jobID, outputRef string) error {
	return t.transition(ctx, jobID, StatusCompleted, func(j *Job) {
		j.OutputRef = outputRef
	})
}

// Fail settles a running job with its error. Failure is terminal; the
// tracker never retries on its own.
func (t *Tracker) Fail(ctx context.Context, jobID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return t.transition(ctx, jobID, StatusFailed, func(j *Job) {
		j.Error = message
	})
}

// Cancel withdraws a job that has not been claimed yet. Once running, a job
// cannot be canceled.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, StatusCanceled, func(j *Job) {})
}

// Status returns the job record verbatim.
func (t *Tracker) Status(ctx context.Context, jobID string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, jobID)
}

// List returns up to limit jobs, optionally filtered by kind. The limit
// applies after the kind filter, so a filtered listing is never short while
// more matching jobs exist.
func (t *Tracker) List(ctx context.Context, kind string, limit int) ([]Job, error) {
	storeLimit := limit
	if kind != "" {
		storeLimit = 0
	}
	records, err := t.store.Query(ctx, state.Query{Kind: state.KindJob, Prefix: recordPrefix, Limit: storeLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]Job, 0, len(records))
	for _, record := range records {
		var j Job
		if err := json.Unmarshal(record.Data, &j); err != nil {
			return nil, fmt.Errorf("failed to decode job %q: %w", record.Key, err)
		}
		if kind != "" && j.Kind != kind {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *Tracker) transition(ctx context.Context, jobID string, to Status, mutate func(*Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, err := t.load(ctx, jobID)
	if err != nil {
		return err
	}
	if !validTransition(j.Status, to) {
		return transitionError(jobID, j.Status, to)
	}

	mutate(&j)
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if j.Terminal() {
		j.CompletedAt = &now
	}
	if err := state.PutJSON(ctx, t.store, state.KindJob, recordPrefix+j.ID, j); err != nil {
		return fmt.Errorf("failed to persist job transition: %w", err)
	}

	status := observe.StatusCompleted
	if to == StatusFailed {
		status = observe.StatusFailed
	}
	t.emit(ctx, j, status, "job."+string(to))
	t.logger.Debug("job transitioned", "job_id", j.ID, "status", string(to))
	return nil
}

func (t *Tracker) load(ctx context.Context, jobID string) (Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return Job{}, fmt.Errorf("job id is required: %w", ErrNotFound)
	}
	var j Job
	if err := state.GetJSON(ctx, t.store, recordPrefix+jobID, &j); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return Job{}, fmt.Errorf("job %q: %w", jobID, ErrNotFound)
		}
		return Job{}, fmt.Errorf("failed to load job %q: %w", jobID, err)
	}
	return j, nil
}

func (t *Tracker) emit(ctx context.Context, j Job, status observe.Status, name string) {
	_ = t.observer.Emit(ctx, observe.Event{
		Kind:   observe.KindJob,
		Status: status,
		JobID:  j.ID,
		Name:   name,
		Error:  j.Error,
		Attributes: map[string]any{
			"kind": j.Kind,
		},
	})
}

package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/notesmith-ai/notesmith/observe"
	"github.com/notesmith-ai/notesmith/runtime/queue"
)

// HandlerFunc executes the deferred work for one queue item and returns an
// output reference for the settled job.
type HandlerFunc func(ctx context.Context, item queue.Item) (string, error)

type WorkerConfig struct {
	Consumer     string
	PoolSize     int
	ClaimBlock   time.Duration
	ClaimBatch   int
	PollInterval time.Duration
}

func (c *WorkerConfig) normalize() {
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = "worker-" + uuid.NewString()
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.ClaimBlock <= 0 {
		c.ClaimBlock = 2 * time.Second
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = c.PoolSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Worker claims items from the queue and executes registered handlers on a
// bounded goroutine pool, driving the tracked job through start and
// completion. Pipeline runs never wait on it.
type Worker struct {
	cfg      WorkerConfig
	queue    queue.Queue
	tracker  *Tracker
	pool     *ants.Pool
	observer observe.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type WorkerOption func(*Worker)

func WithWorkerObserver(observer observe.Sink) WorkerOption {
	return func(w *Worker) {
		if observer != nil {
			w.observer = observer
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWorker(cfg WorkerConfig, workQueue queue.Queue, tracker *Tracker, opts ...WorkerOption) (*Worker, error) {
	if workQueue == nil {
		return nil, fmt.Errorf("work queue is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("job tracker is required")
	}
	cfg.normalize()

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	w := &Worker{
		cfg:      cfg,
		queue:    workQueue,
		tracker:  tracker,
		pool:     pool,
		observer: observe.NoopSink{},
		logger:   slog.Default().With("component", "job-worker"),
		handlers: map[string]HandlerFunc{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register binds a handler to a job kind. Items of an unregistered kind fail
// their job immediately.
func (w *Worker) Register(kind string, handler HandlerFunc) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return fmt.Errorf("handler kind is required")
	}
	if handler == nil {
		return fmt.Errorf("handler func is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[kind]; exists {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}
	w.handlers[kind] = handler
	return nil
}

// Start runs the claim loop until the context is canceled. It blocks, so
// callers usually run it on its own goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.started = true
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.started = false
		w.cancel = nil
		if w.done == done {
			close(done)
			w.done = nil
		}
		w.mu.Unlock()
	}()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		for {
			deliveries, err := w.queue.Claim(groupCtx, w.cfg.Consumer, w.cfg.ClaimBlock, w.cfg.ClaimBatch)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				w.logger.Warn("claim failed", "error", err)
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case <-time.After(w.cfg.PollInterval):
				}
				continue
			}
			for _, delivery := range deliveries {
				delivery := delivery
				if err := w.pool.Submit(func() { w.handle(groupCtx, delivery) }); err != nil {
					w.logger.Warn("pool submit failed", "error", err, "job_id", delivery.Item.JobID)
				}
			}
		}
	})

	err := group.Wait()
	w.pool.Release()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Stop cancels the claim loop and waits for it to wind down.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	if ctx == nil {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handle(ctx context.Context, delivery queue.Delivery) {
	item := delivery.Item
	started := time.Now()

	if err := w.tracker.Start(ctx, item.JobID); err != nil {
		// Canceled or already settled; drop the item.
		w.logger.Debug("skipping job", "job_id", item.JobID, "reason", err)
		_ = w.queue.Ack(ctx, w.cfg.Consumer, delivery.ID)
		return
	}
	w.emit(ctx, item, observe.StatusStarted, "job.started", nil, 0)

	w.mu.Lock()
	handler := w.handlers[item.Kind]
	w.mu.Unlock()

	var (
		outputRef string
		err       error
	)
	if handler == nil {
		err = fmt.Errorf("no handler registered for job kind %q", item.Kind)
	} else {
		outputRef, err = handler(ctx, item)
	}

	if err != nil {
		if failErr := w.tracker.Fail(ctx, item.JobID, err); failErr != nil {
			w.logger.Error("failed to settle job", "job_id", item.JobID, "error", failErr)
		}
		w.logger.Warn("job failed", "job_id", item.JobID, "kind", item.Kind, "error", err)
		w.emit(ctx, item, observe.StatusFailed, "job.failed", err, time.Since(started))
	} else {
		if completeErr := w.tracker.Complete(ctx, item.JobID, outputRef); completeErr != nil {
			w.logger.Error("failed to settle job", "job_id", item.JobID, "error", completeErr)
		}
		w.logger.Debug("job completed", "job_id", item.JobID, "kind", item.Kind,
			"duration_ms", time.Since(started).Milliseconds())
		w.emit(ctx, item, observe.StatusCompleted, "job.completed", nil, time.Since(started))
	}
	_ = w.queue.Ack(ctx, w.cfg.Consumer, delivery.ID)
}

func (w *Worker) emit(ctx context.Context, item queue.Item, status observe.Status, name string, cause error, elapsed time.Duration) {
	event := observe.Event{
		Kind:       observe.KindJob,
		Status:     status,
		JobID:      item.JobID,
		Name:       name,
		DurationMs: elapsed.Milliseconds(),
		Attributes: map[string]any{"job_kind": item.Kind, "consumer": w.cfg.Consumer},
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	_ = w.observer.Emit(ctx, event)
}

package job

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notesmith-ai/notesmith/observe"
	"github.com/notesmith-ai/notesmith/runtime/queue"
	queuememory "github.com/notesmith-ai/notesmith/runtime/queue/memory"
	statememory "github.com/notesmith-ai/notesmith/state/memory"
)

func startTestWorker(t *testing.T) (*Worker, *Tracker, *queuememory.Queue) {
	t.Helper()
	tracker, err := NewTracker(statememory.New())
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	q := queuememory.New()
	worker, err := NewWorker(WorkerConfig{
		Consumer:   "test",
		PoolSize:   2,
		ClaimBlock: 50 * time.Millisecond,
	}, q, tracker)
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}
	return worker, tracker, q
}

func runWorker(t *testing.T, worker *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("worker exited with error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("worker did not stop")
		}
	})
}

func waitForStatus(t *testing.T, tracker *Tracker, jobID string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := tracker.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := tracker.Status(context.Background(), jobID)
	t.Fatalf("job %q never reached %q, last status %q", jobID, want, j.Status)
	return Job{}
}

func TestWorker_ExecutesHandlerAndCompletesJob(t *testing.T) {
	worker, tracker, q := startTestWorker(t)
	ctx := context.Background()

	var calls atomic.Int32
	err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) {
		calls.Add(1)
		return "chunks:" + item.JobID, nil
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	runWorker(t, worker)

	id, err := tracker.Create(ctx, "embed", "source:abc")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.Item{JobID: id, Kind: "embed"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	j := waitForStatus(t, tracker, id, StatusCompleted)
	if j.OutputRef != "chunks:"+id {
		t.Fatalf("unexpected output ref %q", j.OutputRef)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
}

func TestWorker_HandlerErrorFailsJob(t *testing.T) {
	worker, tracker, q := startTestWorker(t)
	ctx := context.Background()

	if err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) {
		return "", fmt.Errorf("provider unreachable")
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	runWorker(t, worker)

	id, _ := tracker.Create(ctx, "embed", "")
	if _, err := q.Enqueue(ctx, queue.Item{JobID: id, Kind: "embed"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	j := waitForStatus(t, tracker, id, StatusFailed)
	if j.Error != "provider unreachable" {
		t.Fatalf("unexpected error text %q", j.Error)
	}
}

func TestWorker_UnregisteredKindFailsJob(t *testing.T) {
	worker, tracker, q := startTestWorker(t)
	ctx := context.Background()
	runWorker(t, worker)

	id, _ := tracker.Create(ctx, "mystery", "")
	if _, err := q.Enqueue(ctx, queue.Item{JobID: id, Kind: "mystery"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	j := waitForStatus(t, tracker, id, StatusFailed)
	if j.Error == "" {
		t.Fatalf("expected an error on the failed job")
	}
}

func TestWorker_SkipsCanceledJob(t *testing.T) {
	worker, tracker, q := startTestWorker(t)
	ctx := context.Background()

	var calls atomic.Int32
	if err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) {
		calls.Add(1)
		return "", nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	runWorker(t, worker)

	id, _ := tracker.Create(ctx, "embed", "")
	if err := tracker.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.Item{JobID: id, Kind: "embed"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Give the worker a moment to claim and drop the item.
	deadline := time.Now().Add(time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	j, err := tracker.Status(ctx, id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if j.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %q", j.Status)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler should not run for canceled jobs")
	}
}

func TestWorker_EmitsJobEvents(t *testing.T) {
	tracker, err := NewTracker(statememory.New())
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	q := queuememory.New()

	var mu sync.Mutex
	var events []observe.Event
	observer := observe.SinkFunc(func(ctx context.Context, event observe.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
		return nil
	})

	worker, err := NewWorker(WorkerConfig{
		Consumer:   "test",
		PoolSize:   2,
		ClaimBlock: 50 * time.Millisecond,
	}, q, tracker, WithWorkerObserver(observer))
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}
	if err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	runWorker(t, worker)

	ctx := context.Background()
	id, _ := tracker.Create(ctx, "embed", "")
	if _, err := q.Enqueue(ctx, queue.Item{JobID: id, Kind: "embed"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	waitForStatus(t, tracker, id, StatusCompleted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var names []string
	for _, event := range events {
		if event.JobID != id {
			t.Fatalf("event carries wrong job id %q", event.JobID)
		}
		if event.Kind != observe.KindJob {
			t.Fatalf("unexpected event kind %q", event.Kind)
		}
		names = append(names, event.Name)
	}
	if len(names) != 2 || names[0] != "job.started" || names[1] != "job.completed" {
		t.Fatalf("unexpected event sequence %v", names)
	}
}

func TestWorker_RegisterValidation(t *testing.T) {
	worker, _, _ := startTestWorker(t)
	if err := worker.Register("", func(ctx context.Context, item queue.Item) (string, error) { return "", nil }); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if err := worker.Register("embed", nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	if err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) { return "", nil }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := worker.Register("embed", func(ctx context.Context, item queue.Item) (string, error) { return "", nil }); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

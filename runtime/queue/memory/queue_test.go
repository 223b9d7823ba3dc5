package memory

import (
	"context"
	"testing"
	"time"

	"github.com/notesmith-ai/notesmith/runtime/queue"
)

func TestQueue_EnqueueClaim(t *testing.T) {
	q := New()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.Item{JobID: "job-1", Kind: "embed", Payload: map[string]any{"source": "s1"}})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected delivery id")
	}

	deliveries, err := q.Claim(ctx, "w1", 100*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Item.JobID != "job-1" || deliveries[0].Item.Kind != "embed" {
		t.Fatalf("unexpected delivery %+v", deliveries[0].Item)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after claim")
	}
}

func TestQueue_ClaimTimesOutEmpty(t *testing.T) {
	q := New()

	start := time.Now()
	deliveries, err := q.Claim(context.Background(), "w1", 50*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(deliveries))
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("claim returned before the block elapsed")
	}
}

func TestQueue_ClaimWakesOnEnqueue(t *testing.T) {
	q := New()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Enqueue(ctx, queue.Item{JobID: "job-2", Kind: "embed"})
	}()

	deliveries, err := q.Claim(ctx, "w1", 2*time.Second, 1)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].Item.JobID != "job-2" {
		t.Fatalf("expected the enqueued item, got %+v", deliveries)
	}
}

func TestQueue_ClaimHonorsContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Claim(ctx, "w1", 5*time.Second, 1)
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := New()
	if _, err := q.Enqueue(context.Background(), queue.Item{Kind: "embed"}); err == nil {
		t.Fatalf("expected error for missing jobID")
	}
	if _, err := q.Enqueue(context.Background(), queue.Item{JobID: "j"}); err == nil {
		t.Fatalf("expected error for missing kind")
	}
}

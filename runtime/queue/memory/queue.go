// Package memory provides an in-process work queue for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/notesmith-ai/notesmith/runtime/queue"
)

type Queue struct {
	mu     sync.Mutex
	items  []queue.Delivery
	nextID int
	closed bool
	wake   chan struct{}
}

func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(ctx context.Context, item queue.Item) (string, error) {
	_ = ctx
	if item.JobID == "" {
		return "", fmt.Errorf("jobID is required")
	}
	if item.Kind == "" {
		return "", fmt.Errorf("item kind is required")
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is closed")
	}
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.items = append(q.items, queue.Delivery{ID: id, Item: item})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id, nil
}

func (q *Queue) Claim(ctx context.Context, consumer string, block time.Duration, count int) ([]queue.Delivery, error) {
	_ = consumer
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("queue is closed")
		}
		if len(q.items) > 0 {
			n := count
			if n > len(q.items) {
				n = len(q.items)
			}
			out := make([]queue.Delivery, n)
			copy(out, q.items[:n])
			q.items = append([]queue.Delivery(nil), q.items[n:]...)
			q.mu.Unlock()
			now := time.Now().UTC()
			for i := range out {
				out[i].Received = now
			}
			return out, nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return []queue.Delivery{}, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			return []queue.Delivery{}, nil
		}
	}
}

// Ack is a no-op: claiming already removed the delivery from the queue.
func (q *Queue) Ack(ctx context.Context, consumer string, deliveryIDs ...string) error {
	_, _, _ = ctx, consumer, deliveryIDs
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len reports the number of pending items. Used by tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var _ queue.Queue = (*Queue)(nil)

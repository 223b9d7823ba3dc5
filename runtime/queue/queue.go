// Package queue carries asynchronous work items from pipeline steps to the
// worker. Pipeline runs only enqueue; a separate worker loop claims items and
// drives the job tracker, so request latency stays decoupled from operation
// latency.
package queue

import (
	"context"
	"time"
)

// Item is one unit of deferred work. JobID ties it to the tracked job record
// created by the enqueuing step.
type Item struct {
	JobID      string         `json:"jobId"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

type Delivery struct {
	ID       string    `json:"id"`
	Item     Item      `json:"item"`
	Received time.Time `json:"received"`
}

type Queue interface {
	Enqueue(ctx context.Context, item Item) (string, error)
	// Claim blocks up to the given duration waiting for up to count items.
	// An empty slice with a nil error means the wait timed out.
	Claim(ctx context.Context, consumer string, block time.Duration, count int) ([]Delivery, error)
	Ack(ctx context.Context, consumer string, deliveryIDs ...string) error
	Close() error
}

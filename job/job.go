// Package job tracks asynchronous units of work. A step that cannot finish
// within its pipeline run creates a job, hands the payload to the work
// queue, and returns; callers poll Status until the worker settles the job.
package job

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var (
	ErrNotFound          = errors.New("job: not found")
	ErrInvalidTransition = errors.New("job: invalid transition")
)

type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      Status     `json:"status"`
	InputRef    string     `json:"inputRef,omitempty"`
	OutputRef   string     `json:"outputRef,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the job can never change state again.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// validTransition encodes the only legal moves: pending to running, running
// to completed or failed, plus pending to canceled.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCanceled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

func transitionError(id string, from, to Status) error {
	return fmt.Errorf("job %q cannot move from %s to %s: %w", id, from, to, ErrInvalidTransition)
}

// Package observe carries structured runtime events out of the engine. Sinks
// decide where they go: logs, tests, or an OpenTelemetry backend.
package observe

import "time"

type Kind string

type Status string

const (
	KindRun        Kind = "run"
	KindStep       Kind = "step"
	KindProvider   Kind = "provider"
	KindCheckpoint Kind = "checkpoint"
	KindJob        Kind = "job"
	KindCustom     Kind = "custom"
)

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type Event struct {
	ID         string         `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"runId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	JobID      string         `json:"jobId,omitempty"`
	Pipeline   string         `json:"pipeline,omitempty"`
	Step       string         `json:"step,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status,omitempty"`
	Name       string         `json:"name,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}

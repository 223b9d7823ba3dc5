// Package otel bridges the observe.Sink to OpenTelemetry tracing, so
// pipeline runs, step executions, and provider calls show up in any
// OTel-compatible backend.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/notesmith-ai/notesmith/observe"
)

const instrumentationName = "github.com/notesmith-ai/notesmith"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider. A nil
// provider falls back to a noop tracer.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	startTime := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("notesmith.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("notesmith.run.id", event.RunID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("notesmith.session.id", event.SessionID))
	}
	if event.JobID != "" {
		attrs = append(attrs, attribute.String("notesmith.job.id", event.JobID))
	}
	if event.Pipeline != "" {
		attrs = append(attrs, attribute.String("notesmith.pipeline", event.Pipeline))
	}
	if event.Step != "" {
		attrs = append(attrs, attribute.String("notesmith.step", event.Step))
	}
	if event.Provider != "" {
		attrs = append(attrs, attribute.String("notesmith.provider", event.Provider))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("notesmith.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("notesmith.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("notesmith.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("notesmith.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("notesmith.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		if event.Pipeline != "" {
			return "pipeline.run." + event.Pipeline
		}
		return "pipeline.run"
	case observe.KindStep:
		if event.Step != "" {
			return "pipeline.step." + event.Step
		}
		return "pipeline.step"
	case observe.KindProvider:
		if event.Provider != "" {
			return "model.invoke." + event.Provider
		}
		return "model.invoke"
	case observe.KindCheckpoint:
		return "pipeline.checkpoint"
	case observe.KindJob:
		if event.Name != "" {
			return "job." + event.Name
		}
		return "job.event"
	default:
		if event.Name != "" {
			return "notesmith." + event.Name
		}
		return "notesmith.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

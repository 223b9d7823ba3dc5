package observe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives engine events. Implementations must tolerate concurrent
// Emit calls.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

// NewLogSink emits events through a structured logger: failures at warn,
// everything else at debug.
func NewLogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ctx context.Context, event Event) error {
		event.Normalize()
		attrs := make([]any, 0, 16)
		attrs = append(attrs, "kind", string(event.Kind), "status", string(event.Status))
		for _, field := range []struct{ key, value string }{
			{"run_id", event.RunID},
			{"session_id", event.SessionID},
			{"job_id", event.JobID},
			{"pipeline", event.Pipeline},
			{"step", event.Step},
			{"provider", event.Provider},
			{"error", event.Error},
		} {
			if field.value != "" {
				attrs = append(attrs, field.key, field.value)
			}
		}
		if event.DurationMs > 0 {
			attrs = append(attrs, "duration_ms", event.DurationMs)
		}
		name := event.Name
		if name == "" {
			name = string(event.Kind)
		}
		if event.Status == StatusFailed {
			logger.WarnContext(ctx, name, attrs...)
		} else {
			logger.DebugContext(ctx, name, attrs...)
		}
		return nil
	})
}

// MultiSink fans one event out to every downstream sink. All sinks see the
// event even when an earlier one errors; the errors come back joined.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return NoopSink{}
	case 1:
		return kept[0]
	}
	return &MultiSink{sinks: kept}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink decouples emitters from a slow downstream. Emit never blocks:
// when the buffer is full the event is counted and dropped.
type AsyncSink struct {
	downstream Sink
	events     chan Event
	dropped    atomic.Int64
	closeOnce  sync.Once
	drained    chan struct{}
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		downstream: downstream,
		events:     make(chan Event, buffer),
		drained:    make(chan struct{}),
	}
	go func() {
		defer close(s.drained)
		for event := range s.events {
			_ = s.downstream.Emit(context.Background(), event)
		}
	}()
	return s
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.events <- event:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *AsyncSink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close stops accepting events and waits for the buffered ones to flush.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.events) })
	<-s.drained
}

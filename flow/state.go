// Package flow executes declarative pipelines: directed graphs of named
// steps over a mutable run state. Steps declare the state fields they read
// and write; the compiler derives a deterministic execution order from those
// declarations. Resumable pipelines checkpoint state per session so a later
// invocation continues where the previous one stopped.
package flow

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// State is the mutable data carried through one pipeline run. Fields written
// by a step are visible to every later step in the same run.
type State struct {
	SessionID string
	RunID     string
	Fields    map[string]any
}

func NewState(fields map[string]any) *State {
	st := &State{Fields: map[string]any{}}
	maps.Copy(st.Fields, fields)
	return st
}

func (s *State) Set(field string, value any) {
	if s.Fields == nil {
		s.Fields = map[string]any{}
	}
	s.Fields[field] = value
}

func (s *State) Get(field string) (any, bool) {
	value, ok := s.Fields[field]
	return value, ok
}

func (s *State) Has(field string) bool {
	_, ok := s.Fields[field]
	return ok
}

// String returns the field as a string, or "" when absent or not a string.
func (s *State) String(field string) string {
	value, _ := Field[string](s, field)
	return value
}

// Field decodes a state field into T. A plain type assertion covers values
// set during the current run; values restored from a checkpoint come back as
// generic JSON shapes, so on assertion miss the value is round-tripped
// through JSON into T.
func Field[T any](s *State, field string) (T, bool) {
	var zero T
	if s == nil || s.Fields == nil {
		return zero, false
	}
	raw, ok := s.Fields[field]
	if !ok || raw == nil {
		return zero, false
	}
	if typed, ok := raw.(T); ok {
		return typed, true
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return zero, false
	}
	var decoded T
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return zero, false
	}
	return decoded, true
}

// Checkpoint is the persisted snapshot of a resumable session's state.
type Checkpoint struct {
	SessionID string         `json:"sessionId"`
	Pipeline  string         `json:"pipeline"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (s *State) snapshot(pipeline string, at time.Time) (Checkpoint, error) {
	if s.SessionID == "" {
		return Checkpoint{}, fmt.Errorf("cannot checkpoint state without a session id")
	}
	fields := map[string]any{}
	maps.Copy(fields, s.Fields)
	return Checkpoint{
		SessionID: s.SessionID,
		Pipeline:  pipeline,
		Fields:    fields,
		UpdatedAt: at,
	}, nil
}

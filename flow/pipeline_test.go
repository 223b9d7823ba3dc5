package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func noop(ctx context.Context, st *State) error { return nil }

func TestCompile_Validation(t *testing.T) {
	cases := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{
			name:    "missing name",
			def:     Definition{Steps: []Step{{Name: "a", Run: noop}}},
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			def:     Definition{Name: "p"},
			wantErr: "no steps",
		},
		{
			name: "duplicate step",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Run: noop},
				{Name: "a", Run: noop},
			}},
			wantErr: "duplicate step",
		},
		{
			name: "step without run or async",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a"},
			}},
			wantErr: "neither a run func nor an async spec",
		},
		{
			name: "async step without kind",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Async: &AsyncSpec{}},
			}},
			wantErr: "needs a job kind",
		},
		{
			name: "read without writer or input",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Reads: []string{"text"}, Run: noop},
			}},
			wantErr: "not a declared input",
		},
		{
			name: "branch to unknown step",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Run: noop, Branch: func(*State) string { return "ghost" }, Targets: []string{"ghost"}},
				{Name: "b", Run: noop},
			}},
			wantErr: "unknown step",
		},
		{
			name: "backward branch",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Run: noop},
				{Name: "b", Run: noop, Branch: func(*State) string { return "a" }, Targets: []string{"a"}},
			}},
			wantErr: "branches backward",
		},
		{
			name: "targets without branch func",
			def: Definition{Name: "p", Steps: []Step{
				{Name: "a", Run: noop, Targets: []string{"b"}},
				{Name: "b", Run: noop},
			}},
			wantErr: "without a branch func",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.def)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tc.wantErr, err)
			}
		})
	}
}

func TestCompile_OrderFollowsFieldDependencies(t *testing.T) {
	p, err := Compile(Definition{
		Name:   "ingest",
		Inputs: []string{"raw"},
		Steps: []Step{
			{Name: "extract", Reads: []string{"raw"}, Writes: []string{"text"}, Run: noop},
			{Name: "transform", Reads: []string{"text"}, Writes: []string{"text"}, Run: noop},
			{Name: "persist", Reads: []string{"text"}, Run: noop},
		},
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	got := make([]string, 0, len(p.order))
	for _, idx := range p.order {
		got = append(got, p.steps[idx].Name)
	}
	want := []string{"extract", "transform", "persist"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestCompile_IndependentStepsKeepInsertionOrder(t *testing.T) {
	p, err := Compile(Definition{
		Name: "p",
		Steps: []Step{
			{Name: "beta", Writes: []string{"b"}, Run: noop},
			{Name: "alpha", Writes: []string{"a"}, Run: noop},
			{Name: "join", Reads: []string{"a", "b"}, Run: noop},
		},
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	got := make([]string, 0, len(p.order))
	for _, idx := range p.order {
		got = append(got, p.steps[idx].Name)
	}
	want := []string{"beta", "alpha", "join"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestCompile_SharedFieldWritersChainInInsertionOrder(t *testing.T) {
	// Both append steps write "messages"; the reader between them must see
	// the first writer but not wait on the second.
	p, err := Compile(Definition{
		Name:   "chat",
		Inputs: []string{"user_input"},
		Steps: []Step{
			{Name: "append_user", Reads: []string{"user_input"}, Writes: []string{"messages"}, Run: noop},
			{Name: "generate", Reads: []string{"messages"}, Writes: []string{"reply"}, Run: noop},
			{Name: "append_assistant", Reads: []string{"messages", "reply"}, Writes: []string{"messages"}, Run: noop},
		},
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	got := make([]string, 0, len(p.order))
	for _, idx := range p.order {
		got = append(got, p.steps[idx].Name)
	}
	want := []string{"append_user", "generate", "append_assistant"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestField_DecodesCheckpointShapes(t *testing.T) {
	st := NewState(nil)

	// Value set during the run keeps its concrete type.
	st.Set("count", 3)
	if got, ok := Field[int](st, "count"); !ok || got != 3 {
		t.Fatalf("expected 3, got %v (ok=%v)", got, ok)
	}

	// Value restored from a checkpoint arrives as generic JSON.
	st.Set("chunks", []any{map[string]any{"id": "c1", "score": 0.9}})
	type chunk struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}
	got, ok := Field[[]chunk](st, "chunks")
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	want := []chunk{{ID: "c1", Score: 0.9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
	}

	if _, ok := Field[string](st, "missing"); ok {
		t.Fatalf("expected missing field to report false")
	}
}

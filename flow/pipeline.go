package flow

import (
	"context"
	"fmt"
	"strings"
)

// End is the branch target that terminates a run after the branching step.
const End = "__end__"

// RunFunc executes one synchronous step, reading and writing state fields.
type RunFunc func(ctx context.Context, st *State) error

// BranchFunc selects the next step by name from the step's declared targets,
// or End to stop the run. Returning "" continues with the next step in order.
type BranchFunc func(st *State) string

// AsyncSpec turns a step into a fire-and-forget handoff: the executor records
// a job, enqueues a work item of the given kind, and the run continues
// without waiting for the worker.
type AsyncSpec struct {
	JobKind string
	// InputRef labels the job's input, e.g. a source record key. Optional.
	InputRef func(st *State) string
	// Payload builds the work item payload from the state. Optional.
	Payload func(st *State) map[string]any
	// OutputField names the state field that receives the job id.
	// Defaults to "job_id".
	OutputField string
}

// Step is one node of a pipeline graph.
type Step struct {
	Name string
	// Reads and Writes declare the state fields this step depends on and
	// produces. The compiler orders steps so every read happens after the
	// field's writer.
	Reads  []string
	Writes []string
	Run    RunFunc
	// Branch, when set, picks the next step after Run from Targets.
	Branch  BranchFunc
	Targets []string
	Async   *AsyncSpec
}

// Definition declares a pipeline before compilation.
type Definition struct {
	Name string
	// Inputs are fields the caller must supply in the initial state; reads
	// of these fields need no writing step.
	Inputs []string
	// Resumable pipelines load and save a session checkpoint around each run.
	Resumable bool
	Steps     []Step
}

// Pipeline is a compiled, immutable definition ready for execution.
type Pipeline struct {
	name      string
	resumable bool
	hasAsync  bool
	steps     []Step
	order     []int
	index     map[string]int
}

func (p *Pipeline) Name() string    { return p.name }
func (p *Pipeline) Resumable() bool { return p.resumable }

// Compile validates a definition and fixes the execution order: topological
// over declared read/write dependencies, with insertion order breaking ties
// between independent steps.
func Compile(def Definition) (*Pipeline, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("pipeline %q has no steps", def.Name)
	}

	index := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return nil, fmt.Errorf("pipeline %q: step %d has no name", def.Name, i)
		}
		if step.Name == End {
			return nil, fmt.Errorf("pipeline %q: step name %q is reserved", def.Name, End)
		}
		if _, dup := index[step.Name]; dup {
			return nil, fmt.Errorf("pipeline %q: duplicate step %q", def.Name, step.Name)
		}
		if step.Run == nil && step.Async == nil {
			return nil, fmt.Errorf("pipeline %q: step %q has neither a run func nor an async spec", def.Name, step.Name)
		}
		if step.Async != nil && strings.TrimSpace(step.Async.JobKind) == "" {
			return nil, fmt.Errorf("pipeline %q: async step %q needs a job kind", def.Name, step.Name)
		}
		if step.Branch != nil && len(step.Targets) == 0 {
			return nil, fmt.Errorf("pipeline %q: branching step %q declares no targets", def.Name, step.Name)
		}
		if step.Branch == nil && len(step.Targets) > 0 {
			return nil, fmt.Errorf("pipeline %q: step %q declares targets without a branch func", def.Name, step.Name)
		}
		index[step.Name] = i
	}

	order, err := sortSteps(def)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", def.Name, err)
	}

	// Branch targets must exist and lie downstream of the branching step,
	// so every run makes forward progress and terminates.
	position := make(map[string]int, len(order))
	for pos, stepIdx := range order {
		position[def.Steps[stepIdx].Name] = pos
	}
	for _, step := range def.Steps {
		for _, target := range step.Targets {
			if target == End {
				continue
			}
			targetPos, ok := position[target]
			if !ok {
				return nil, fmt.Errorf("pipeline %q: step %q branches to unknown step %q", def.Name, step.Name, target)
			}
			if targetPos <= position[step.Name] {
				return nil, fmt.Errorf("pipeline %q: step %q branches backward to %q", def.Name, step.Name, target)
			}
		}
	}

	hasAsync := false
	for _, step := range def.Steps {
		if step.Async != nil {
			hasAsync = true
			break
		}
	}
	steps := make([]Step, len(def.Steps))
	copy(steps, def.Steps)
	return &Pipeline{
		name:      def.Name,
		resumable: def.Resumable,
		hasAsync:  hasAsync,
		steps:     steps,
		order:     order,
		index:     index,
	}, nil
}

// MustCompile is Compile for package-level pipeline definitions.
func MustCompile(def Definition) *Pipeline {
	p, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return p
}

// sortSteps runs Kahn's algorithm over field dependencies. A step reading
// field f depends on the writers of f that precede it in insertion order;
// writers of the same field are chained in insertion order. Among steps with
// no pending dependency the lowest insertion index goes first, so compiled
// order is stable across runs.
func sortSteps(def Definition) ([]int, error) {
	n := len(def.Steps)
	inputs := map[string]bool{}
	for _, field := range def.Inputs {
		inputs[field] = true
	}

	writers := map[string][]int{}
	for i, step := range def.Steps {
		for _, field := range step.Writes {
			writers[field] = append(writers[field], i)
		}
	}

	deps := make([]map[int]bool, n)
	for i := range deps {
		deps[i] = map[int]bool{}
	}
	addDep := func(step, on int) {
		if step != on {
			deps[step][on] = true
		}
	}
	for i, step := range def.Steps {
		for _, field := range step.Reads {
			prior := 0
			for _, w := range writers[field] {
				if w < i {
					addDep(i, w)
					prior++
				}
			}
			if prior == 0 && !inputs[field] {
				return nil, fmt.Errorf("step %q reads field %q that no prior step writes and that is not a declared input", step.Name, field)
			}
		}
		for _, field := range step.Writes {
			for _, w := range writers[field] {
				if w < i {
					addDep(i, w)
				}
			}
		}
	}

	order := make([]int, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if done[i] {
				continue
			}
			ready := true
			for dep := range deps[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("step dependencies form a cycle")
		}
		done[next] = true
		order = append(order, next)
	}
	return order, nil
}

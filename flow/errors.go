package flow

import "fmt"

// StepError wraps a failure from one pipeline step with the step's name so
// callers can diagnose a halted run without inspecting internals.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepError(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

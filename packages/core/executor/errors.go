package executor

import (
	"fmt"
)

// Phase names the part of a stage that failed.
type Phase string

const (
	PhaseVariables Phase = "variables"
	PhaseRequest   Phase = "request"
	PhaseSave      Phase = "save"
	PhaseVerify    Phase = "verify"
)

// NoIteration marks a stage that did not fan out.
const NoIteration = -1

// StageError is returned for every stage failure. Err is a *RequestError,
// *SaveError, *VerificationError or a template substitution error.
type StageError struct {
	Stage     string
	Iteration int
	Phase     Phase
	Err       error
}

func (e *StageError) Error() string {
	if e.Iteration != NoIteration {
		return fmt.Sprintf("stage %q iteration %d: %s: %v", e.Stage, e.Iteration, e.Phase, e.Err)
	}
	return fmt.Sprintf("stage %q: %s: %v", e.Stage, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RequestError wraps a failure to send the request or obtain a response.
type RequestError struct {
	Method string
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	if e.URL == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// SaveError wraps a failing save step.
type SaveError struct {
	Step int
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// VerificationError wraps a failing verify step. Err is usually an
// *assertions.Failure.
type VerificationError struct {
	Step int
	Err  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

package cmd

import (
	"errors"
	"fmt"
)

// Exit codes for the stagespec CLI
const (
	// ExitSuccess indicates all stages passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more stages failed
	ExitTestFailure = 1

	// ExitParseError indicates a scenario could not be resolved or decoded
	ExitParseError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// ExitError carries the exit code for a failed command. An ExitError
// without Err exits quietly; the reporter has already explained.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsageError
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: ExitUsageError, Err: fmt.Errorf(format, args...)}
}

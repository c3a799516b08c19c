package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput indicates bad job-creation arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates an unknown job identifier.
	ErrNotFound = errors.New("job not found")

	// ErrStorage indicates a job-store I/O failure.
	ErrStorage = errors.New("storage error")

	// ErrResourceTimeout indicates a required tenant failed to become
	// healthy within its budget.
	ErrResourceTimeout = errors.New("resource timeout")
)

// StageExecutionError reports a failed external engine invocation. It
// carries a bounded tail of the child process output for post-mortem
// inspection.
type StageExecutionError struct {
	Stage    StageName
	ExitCode int
	Tail     []string
	Err      error
}

func (e *StageExecutionError) Error() string {
	msg := fmt.Sprintf("stage %s execution failed (exit %d)", e.Stage, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Tail) > 0 {
		msg += "\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}

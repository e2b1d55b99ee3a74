package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations
var (
	// ErrToolLoopOverflow indicates the model still requested tools after
	// the last permitted round.
	ErrToolLoopOverflow = errors.New("tool loop exceeded max rounds")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidToolName indicates a tool name outside ^[a-zA-Z0-9_-]{1,64}$
	ErrInvalidToolName = errors.New("invalid tool name")

	// ErrInvalidArguments indicates tool arguments failed decoding or
	// schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")
)

// ToolError reports a tool that kept failing until the loop gave up.
type ToolError struct {
	// Name is the name of the tool that failed
	Name string

	// Failures is the number of consecutive failed calls
	Failures int

	// Cause is the last failure
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tool %s failed %d times in a row", e.Name, e.Failures)
	}
	return fmt.Sprintf("tool %s failed %d times in a row: %v", e.Name, e.Failures, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

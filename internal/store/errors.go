package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a second non-terminal execution would be
	// created for the same (script, client) pair.
	ErrConflict = errors.New("conflict: non-terminal execution already exists")

	// ErrInvalidTransition is returned when the requested status is not
	// reachable from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBufferSealed is returned when output is appended after the
	// execution reached a terminal state or after the final chunk.
	ErrBufferSealed = errors.New("output buffer sealed")

	// ErrClientUnreachable is returned by transports that could not hand
	// a command to the remote client.
	ErrClientUnreachable = errors.New("client unreachable")

	// ErrTimeout marks an execution that stalled past its deadline.
	ErrTimeout = errors.New("execution timed out")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation error")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

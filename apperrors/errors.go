// Package apperrors provides structured application errors for the job
// tracking framework.
//
// The taxonomy separates programmer/configuration errors (invalid argument,
// raised synchronously to the caller) from infrastructure errors (wrapped
// store failures, observed only by the detached write path) and read misses.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For invalid-argument errors (e.g., "chunkOfWorkPercentage")
	Resource string // For not found (e.g., "job run")
	Op       string // Operation that failed (e.g., "postgres.upsertRun")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// InvalidArgument creates an invalid-argument error for a specific field.
func InvalidArgument(field, message string) error {
	return &Error{
		Sentinel: ErrInvalidArgument,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionFailed indicates the dependency gate blocked a completion.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrValidation is the sentinel wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ErrPredecessorIncomplete is returned when a task is completed before its predecessor.
var ErrPredecessorIncomplete = fmt.Errorf("%w: predecessor task must be completed first", ErrPreconditionFailed)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func taskNotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the scheduling core. All are local,
// non-retryable decisions surfaced to the caller.
var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientData is returned when a generation run has no
	// preference submissions to work with.
	ErrInsufficientData = errors.New("no preferences submitted for week")
	// ErrConflict is returned on concurrent or duplicate mutation of the
	// same assignment, swap request or week.
	ErrConflict = errors.New("conflicting operation in progress")
	// ErrStaleReference is returned when an operation references an
	// assignment that has already been reassigned.
	ErrStaleReference = errors.New("assignment has been reassigned")
	// ErrForbidden is returned when the acting user is not allowed to
	// perform the operation.
	ErrForbidden = errors.New("actor not allowed")
	// ErrInvalidStateTransition is returned when an operation is illegal in
	// the record's current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrAlreadyRunning is returned when generation for the same group and
	// week is already in progress.
	ErrAlreadyRunning = errors.New("generation already running for this week")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnresolvableScheduleError is returned when slots cannot all be filled and
// partial generation is disallowed. It carries the unresolved slot ids.
type UnresolvableScheduleError struct {
	Slots []string
}

func (e *UnresolvableScheduleError) Error() string {
	return fmt.Sprintf("cannot fill %d slot(s): %s", len(e.Slots), strings.Join(e.Slots, ", "))
}

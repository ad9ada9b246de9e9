package engine

import (
	"errors"
	"fmt"
	"time"
)

// RuntimeError represents a fatal condition detected during a scan.
//
// Runtime errors include:
//   - Unsorted timeline: a moment is earlier than its predecessor
//   - Invariant violation: a phase accepted an event in IsNextValidEvent
//     but failed to transit on it, or could not be built or emitted
//
// Neither is recoverable; the scan stops at the offending moment.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Index is the position of the offending moment in the input.
	Index int

	// Event is the "{source}: {name}" key of the offending moment.
	Event string

	// Phase is the sequence number of the phase involved, 0 if none.
	Phase int64

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnsortedTimeline indicates moments are not in time order.
	ErrCodeUnsortedTimeline RuntimeErrorCode = "UNSORTED_TIMELINE"

	// ErrCodeInvariantViolation indicates IsNextValidEvent and Transit
	// disagree, or a finished phase could not produce its output.
	ErrCodeInvariantViolation RuntimeErrorCode = "INVARIANT_VIOLATION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s (moment=%d, event=%q", e.Code, e.Message, e.Index, e.Event)
	if e.Phase != 0 {
		msg += fmt.Sprintf(", phase=%d", e.Phase)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnsortedTimeline returns true if err is an unsorted-timeline error.
// Uses errors.As to handle wrapped errors.
func IsUnsortedTimeline(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnsortedTimeline
	}
	return false
}

// IsInvariantViolation returns true if err is an invariant violation.
// Uses errors.As to handle wrapped errors.
func IsInvariantViolation(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvariantViolation
	}
	return false
}

// NewUnsortedError creates a RuntimeError for a moment earlier than its
// predecessor.
func NewUnsortedError(index int, event string, prev, cur time.Time) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnsortedTimeline,
		Message: fmt.Sprintf("moment at %s precedes previous moment at %s", cur.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)),
		Index:   index,
		Event:   event,
	}
}

// NewInvariantError creates a RuntimeError for a broken phase contract.
func NewInvariantError(index int, event string, phaseSeq int64, message string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvariantViolation,
		Message: message,
		Index:   index,
		Event:   event,
		Phase:   phaseSeq,
		Err:     cause,
	}
}

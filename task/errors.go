package task

import (
	"errors"
	"fmt"
)

var (
	// ErrMaximumAttemptsExceeded is returned when the attempt budget of a step
	// is spent and no more specific error was recorded for it.
	ErrMaximumAttemptsExceeded = errors.New("maximum attempts exceeded")
	// ErrCancelled is returned by Wait for cancelled tasks.
	ErrCancelled = errors.New("task cancelled")
	// ErrEmptyContinuation is returned when a continuation yields neither a
	// request nor an error.
	ErrEmptyContinuation = errors.New("continuation returned no request")
	// ErrNoRecoverer is returned when an API error needs recovery but the task
	// has nobody to run it.
	ErrNoRecoverer = errors.New("no recoverer configured")
)

// maxAttemptsError prefers the last specific error of the step.
func maxAttemptsError(last error) error {
	if last != nil {
		return last
	}
	return ErrMaximumAttemptsExceeded
}

// RecoveryError is a failed recovery flow. It matches both the recovery
// failure and the API error that started it.
type RecoveryError struct {
	Action Action
	Err    error
	Cause  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%s recovery failed: %v (cause: %v)", e.Action, e.Err, e.Cause)
}

func (e *RecoveryError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

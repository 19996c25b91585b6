package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrVersionConflict   = errors.New("version conflict")
	ErrTransientIO       = errors.New("transient io")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Error kinds reported by ErrorKind.
const (
	KindInvalidInput    = "invalid_input"
	KindNotFound        = "not_found"
	KindAlreadyExists   = "already_exists"
	KindVersionConflict = "version_conflict"
	KindTransientIO     = "transient_io"
	KindStepFailure     = "step_failure"
	KindInternal        = "internal"
)

// StepError records a workflow step that exhausted its retries.
type StepError struct {
	Step     string
	Attempts int
	Cause    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// Transient marks err as a retryable store or queue failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}

// IsTransient reports whether err is worth retrying at the calling component.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// ErrorKind classifies err into the pipeline error taxonomy.
func ErrorKind(err error) string {
	var stepErr *StepError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &stepErr):
		return KindStepFailure
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, ErrTransientIO):
		return KindTransientIO
	default:
		return KindInternal
	}
}

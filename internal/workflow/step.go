// Package workflow runs the ordered processing steps for a job in PROCESSING
// and records progress, the result, or the failing step.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/domain"
)

// JobContext is what a step sees of the job it works on.
type JobContext struct {
	JobID     string
	Filename  string
	ObjectKey string
	Bucket    string
	// Result accumulates step outputs; steps read earlier outputs from it.
	Result domain.Result
	Logger zerolog.Logger
}

// StepOutcome carries the values a step contributes to the job result.
type StepOutcome struct {
	Set map[string]any
}

// StepFunc performs one unit of work. It must be safe to run again after a
// failed attempt.
type StepFunc func(ctx context.Context, jc *JobContext) (StepOutcome, error)

// RetryPolicy bounds how often a step is attempted.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Step describes one stage of the pipeline. Progress is the percentage
// committed once the step succeeds; it must not decrease along the pipeline.
type Step struct {
	Name     string
	Progress int
	Timeout  time.Duration
	Retry    RetryPolicy
	Run      StepFunc
}

// Permanent marks err as not worth retrying within the step.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return true
}

// ValidateSteps checks names are unique and progress never decreases.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", domain.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(steps))
	last := 0
	for _, s := range steps {
		if s.Name == "" || s.Run == nil {
			return fmt.Errorf("%w: step needs a name and a func", domain.ErrInvalidInput)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate step %q", domain.ErrInvalidInput, s.Name)
		}
		seen[s.Name] = true
		if s.Progress < last || s.Progress > 100 {
			return fmt.Errorf("%w: step %q progress %d after %d", domain.ErrInvalidInput, s.Name, s.Progress, last)
		}
		last = s.Progress
	}
	return nil
}

// runStep attempts step up to its retry budget, each attempt under the step
// timeout. Exhaustion returns a *domain.StepError.
func runStep(ctx context.Context, step Step, jc *JobContext) (StepOutcome, error) {
	attempts := step.Retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, err := runAttempt(ctx, step, jc)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return StepOutcome{}, ctx.Err()
		}
		if !retryable(err) || attempt == attempts {
			return StepOutcome{}, &domain.StepError{Step: step.Name, Attempts: attempt, Cause: err}
		}
		jc.Logger.Warn().Err(err).Str("step", step.Name).Int("attempt", attempt).Msg("step attempt failed, retrying")
		if step.Retry.Backoff > 0 {
			select {
			case <-ctx.Done():
				return StepOutcome{}, ctx.Err()
			case <-time.After(step.Retry.Backoff * time.Duration(attempt)):
			}
		}
	}
	return StepOutcome{}, &domain.StepError{Step: step.Name, Attempts: attempts, Cause: lastErr}
}

func runAttempt(ctx context.Context, step Step, jc *JobContext) (StepOutcome, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	type result struct {
		outcome StepOutcome
		err     error
	}
	local := *jc
	local.Result = jc.Result.Clone()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: Permanent(fmt.Errorf("step panicked: %v", r))}
			}
		}()
		o, err := step.Run(ctx, &local)
		done <- result{outcome: o, err: err}
	}()

	// a step that ignores ctx cannot hold the pipeline past its budget
	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return StepOutcome{}, ErrStepTimeout
		}
		return r.outcome, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return StepOutcome{}, ErrStepTimeout
		}
		return StepOutcome{}, ctx.Err()
	}
}

// ErrStepTimeout is the cause recorded when an attempt outlives Step.Timeout.
var ErrStepTimeout = errors.New("step exceeded its time budget")

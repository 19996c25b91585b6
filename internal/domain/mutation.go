package domain

import (
	"fmt"
	"time"
)

// Mutator changes a job snapshot in place. Stores apply it to a private copy
// and persist the result only when the expected version still matches.
type Mutator func(*Job) error

// ApplyMutation runs mutate against a copy of current, checks lifecycle
// invariants, and stamps the new version and update time. current is left
// untouched.
func ApplyMutation(current *Job, mutate Mutator, now time.Time) (*Job, error) {
	if current == nil {
		return nil, ErrNotFound
	}
	if mutate == nil {
		return nil, fmt.Errorf("%w: mutator is required", ErrInvalidInput)
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID || next.Filename != current.Filename ||
		next.ObjectKey != current.ObjectKey || !next.CreatedAt.Equal(current.CreatedAt) {
		return nil, fmt.Errorf("%w: immutable field changed", ErrInvalidTransition)
	}
	if next.Status != current.Status && !CanTransition(current.Status, next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}
	if next.Status == JobStatusProcessing && current.Status == JobStatusProcessing &&
		next.ProgressPercent < current.ProgressPercent {
		return nil, fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, current.ProgressPercent, next.ProgressPercent)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

// StartProcessing moves a PENDING job into PROCESSING.
func StartProcessing(now time.Time) Mutator {
	return func(j *Job) error {
		if j.Status != JobStatusPending {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.Status)
		}
		hb := now.UTC()
		j.Status = JobStatusProcessing
		j.ProgressPercent = 0
		j.HeartbeatAt = &hb
		return nil
	}
}

// SetProgress records step progress for a PROCESSING job.
func SetProgress(percent int, now time.Time) Mutator {
	return func(j *Job) error {
		if j.Status != JobStatusProcessing {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.Status)
		}
		if percent < j.ProgressPercent || percent > 100 {
			return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, j.ProgressPercent, percent)
		}
		hb := now.UTC()
		j.ProgressPercent = percent
		j.HeartbeatAt = &hb
		return nil
	}
}

// Heartbeat refreshes the liveness lease of a PROCESSING job.
func Heartbeat(now time.Time) Mutator {
	return func(j *Job) error {
		if j.Status != JobStatusProcessing {
			return fmt.Errorf("%w: heartbeat on %s job", ErrInvalidTransition, j.Status)
		}
		hb := now.UTC()
		j.HeartbeatAt = &hb
		return nil
	}
}

// Complete moves a PROCESSING job to COMPLETED with its result.
func Complete(result Result) Mutator {
	return func(j *Job) error {
		if j.Status != JobStatusProcessing {
			return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, j.Status)
		}
		if result == nil {
			result = Result{}
		}
		j.Status = JobStatusCompleted
		j.ProgressPercent = 100
		j.Result = Result(cloneMap(result))
		j.Error = nil
		j.HeartbeatAt = nil
		return nil
	}
}

// Fail moves a PROCESSING job to FAILED with the supplied detail.
func Fail(detail JobError) Mutator {
	return func(j *Job) error {
		if j.Status != JobStatusProcessing {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, j.Status)
		}
		if detail.Code == "" {
			detail.Code = KindStepFailure
		}
		j.Status = JobStatusFailed
		j.Result = nil
		j.Error = &detail
		j.HeartbeatAt = nil
		return nil
	}
}

// PrepareNew validates a job about to be inserted and stamps its first
// version. Missing timestamps default to now.
func PrepareNew(job *Job, now time.Time) (*Job, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", ErrInvalidInput)
	}
	out := job.Clone()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now.UTC()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	out.Version = 1
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the lifecycle DAG has an edge from -> to.
// Staying in the same state is not a transition.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

// Result is the structured output of a completed job.
type Result map[string]any

// Clone deep-copies the result document.
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	return Result(cloneMap(r))
}

// JobError is the structured failure detail of a failed job.
type JobError struct {
	Step     string `json:"step,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

// Job encapsulates the lifecycle of one upload-then-process unit of work.
type Job struct {
	ID              string
	Filename        string
	ObjectKey       string
	Bucket          string
	Status          JobStatus
	ProgressPercent int
	Result          Result
	Error           *JobError
	CreatedAt       time.Time
	UpdatedAt       time.Time
	HeartbeatAt     *time.Time
	Version         int64
}

// Validate checks the record-level invariants that must hold after every write.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidInput)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, j.Status)
	}
	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidInput, j.ProgressPercent)
	}
	switch j.Status {
	case JobStatusCompleted:
		if j.Result == nil || j.Error != nil {
			return fmt.Errorf("%w: completed job needs result and no error", ErrInvalidTransition)
		}
	case JobStatusFailed:
		if j.Error == nil || j.Result != nil {
			return fmt.Errorf("%w: failed job needs error and no result", ErrInvalidTransition)
		}
	default:
		if j.Result != nil || j.Error != nil {
			return fmt.Errorf("%w: %s job cannot carry result or error", ErrInvalidTransition, j.Status)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can treat fetched jobs as snapshots.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Result != nil {
		out.Result = Result(cloneMap(j.Result))
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.HeartbeatAt != nil {
		hb := *j.HeartbeatAt
		out.HeartbeatAt = &hb
	}
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Result:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

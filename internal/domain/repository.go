package domain

import (
	"context"
	"time"
)

// JobStore is the durable keyed storage for jobs.
//
// Update applies mutate and persists the outcome only while the stored version
// still equals expectedVersion. On mismatch it returns the current record
// together with ErrVersionConflict so the caller can retry or give up.
type JobStore interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	Get(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, jobID string, mutate Mutator, expectedVersion int64) (*Job, error)
}

// StaleJobLister finds jobs whose liveness lease expired before cutoff.
type StaleJobLister interface {
	ListStale(ctx context.Context, status JobStatus, cutoff time.Time, limit int) ([]*Job, error)
}

// LeaseTime returns the last moment the job was known to be alive.
func LeaseTime(j *Job) time.Time {
	if j.HeartbeatAt != nil && j.HeartbeatAt.After(j.UpdatedAt) {
		return *j.HeartbeatAt
	}
	return j.UpdatedAt
}

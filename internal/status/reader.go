// Package status serves read-only job projections to polling clients.
package status

import (
	"context"
	"strings"

	"videojobs/internal/domain"
)

// Reader is a pure read of the job store. A client polling right after its
// upload may still see PENDING until the trigger is processed.
type Reader struct {
	store domain.JobStore
}

func NewReader(store domain.JobStore) *Reader {
	return &Reader{store: store}
}

// GetStatus returns the wire projection of a job or domain.ErrNotFound.
func (r *Reader) GetStatus(ctx context.Context, jobID string) (domain.JobView, error) {
	job, err := r.store.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return domain.JobView{}, err
	}
	return job.View(), nil
}

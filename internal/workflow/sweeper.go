package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/domain"
)

// StaleStore is the store surface the sweeper needs.
type StaleStore interface {
	domain.JobStore
	domain.StaleJobLister
}

// Sweeper fails PROCESSING jobs whose run stopped heartbeating, so a crashed
// worker cannot leave a job PROCESSING forever. It never moves a job back to
// PENDING or PROCESSING.
type Sweeper struct {
	store        StaleStore
	stallTimeout time.Duration
	interval     time.Duration
	batch        int
	logger       zerolog.Logger
	now          func() time.Time
}

func NewSweeper(store StaleStore, stallTimeout, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:        store,
		stallTimeout: stallTimeout,
		interval:     interval,
		batch:        100,
		logger:       logger.With().Str("component", "sweeper").Logger(),
		now:          time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce fails every stalled job found in one listing and reports how
// many it failed. A job that heartbeats between listing and failing wins the
// version race and is left alone.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.stallTimeout)
	jobs, err := s.store.ListStale(ctx, domain.JobStatusProcessing, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0
	for _, job := range jobs {
		lease := domain.LeaseTime(job)
		detail := domain.JobError{
			Code:    CodeStalled,
			Message: fmt.Sprintf("no progress or heartbeat since %s", lease.UTC().Format(time.RFC3339)),
		}
		_, err := s.store.Update(ctx, job.ID, domain.Fail(detail), job.Version)
		switch {
		case err == nil:
			failed++
			s.logger.Warn().
				Str("job_id", job.ID).
				Int("progress_percent", job.ProgressPercent).
				Time("lease", lease).
				Msg("stalled job failed")
		case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrInvalidTransition):
			s.logger.Debug().Str("job_id", job.ID).Msg("stale job moved on, skipping")
		default:
			return failed, fmt.Errorf("fail stalled job %s: %w", job.ID, err)
		}
	}
	return failed, nil
}

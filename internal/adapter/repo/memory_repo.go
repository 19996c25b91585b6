package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"videojobs/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. Intended for tests and
// single-process development runs.
type MemoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	byKey map[string]string
	now   func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[string]*domain.Job),
		byKey: make(map[string]string),
		now:   time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	rec, err := domain.PrepareNew(job, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	if _, ok := s.byKey[rec.ObjectKey]; ok {
		return nil, domain.ErrAlreadyExists
	}
	s.jobs[rec.ID] = rec
	s.byKey[rec.ObjectKey] = rec.ID
	return rec.Clone(), nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, jobID string, mutate domain.Mutator, expectedVersion int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return rec.Clone(), domain.ErrVersionConflict
	}
	next, err := domain.ApplyMutation(rec, mutate, s.now())
	if err != nil {
		return nil, err
	}
	s.jobs[jobID] = next
	return next.Clone(), nil
}

func (s *MemoryJobStore) ListStale(_ context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	var out []*domain.Job
	for _, rec := range s.jobs {
		if rec.Status == status && domain.LeaseTime(rec).Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ domain.JobStore       = (*MemoryJobStore)(nil)
	_ domain.StaleJobLister = (*MemoryJobStore)(nil)
)

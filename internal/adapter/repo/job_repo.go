package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"videojobs/internal/domain"
	"videojobs/internal/infra"
	"videojobs/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewJobRepository creates a job store backed by the given executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql, now: time.Now}
}

// Migrate creates the jobs table when missing.
func (r *JobRepositoryPG) Migrate(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QCreateJobsSchema); err != nil {
		return classifyPGError("migrate jobs", err)
	}
	return nil
}

// Create inserts a new job at version 1.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	rec, err := domain.PrepareNew(job, r.now())
	if err != nil {
		return nil, err
	}
	result, err := encodeResult(rec.Result)
	if err != nil {
		return nil, err
	}
	jobErr, err := encodeJobError(rec.Error)
	if err != nil {
		return nil, err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		rec.ID,
		rec.Filename,
		rec.ObjectKey,
		rec.Bucket,
		string(rec.Status),
		rec.ProgressPercent,
		result,
		jobErr,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.HeartbeatAt,
		rec.Version,
	)
	if err != nil {
		return nil, classifyPGError("insert job", err)
	}
	return rec, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrNotFound
	}
	if _, err := uuid.Parse(jobID); err != nil {
		// the column is typed uuid, so no such row can exist
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, classifyPGError("select job", err)
	}
	return job, nil
}

// Update applies mutate when the stored version equals expectedVersion. On a
// mismatch the current record is returned alongside domain.ErrVersionConflict.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, mutate domain.Mutator, expectedVersion int64) (*domain.Job, error) {
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return current, domain.ErrVersionConflict
	}
	next, err := domain.ApplyMutation(current, mutate, r.now())
	if err != nil {
		return nil, err
	}
	result, err := encodeResult(next.Result)
	if err != nil {
		return nil, err
	}
	jobErr, err := encodeJobError(next.Error)
	if err != nil {
		return nil, err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobFenced,
		jobID,
		expectedVersion,
		string(next.Status),
		next.ProgressPercent,
		result,
		jobErr,
		next.UpdatedAt,
		next.HeartbeatAt,
		next.Version,
	)
	if err != nil {
		return nil, classifyPGError("update job", err)
	}
	if tag.RowsAffected() == 0 {
		// lost the race between read and write
		latest, err := r.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return latest, domain.ErrVersionConflict
	}
	return next, nil
}

// ListStale returns jobs in status whose lease is older than cutoff.
func (r *JobRepositoryPG) ListStale(ctx context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectStaleJobs, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, classifyPGError("select stale jobs", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classifyPGError("scan stale job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError("iterate stale jobs", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		resultJSON  []byte
		errorJSON   []byte
		heartbeatAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.Filename,
		&job.ObjectKey,
		&job.Bucket,
		&status,
		&job.ProgressPercent,
		&resultJSON,
		&errorJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&heartbeatAt,
		&job.Version,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.HeartbeatAt = heartbeatAt
	var err error
	if job.Result, err = decodeResult(resultJSON); err != nil {
		return nil, err
	}
	if job.Error, err = decodeJobError(errorJSON); err != nil {
		return nil, err
	}
	return &job, nil
}

// classifyPGError maps driver failures onto the domain taxonomy. Server-side
// rejections stay permanent; connection-level failures are transient.
func classifyPGError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
		case pgErr.Code == "22P02":
			return fmt.Errorf("%s: %w: %s", op, domain.ErrInvalidInput, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return fmt.Errorf("%s: %w", op, domain.Transient(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, domain.Transient(err))
}

var (
	_ domain.JobStore       = (*JobRepositoryPG)(nil)
	_ domain.StaleJobLister = (*JobRepositoryPG)(nil)
)

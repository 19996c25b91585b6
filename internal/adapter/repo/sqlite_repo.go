package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"videojobs/internal/domain"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteJobColumns = `job_id, filename, object_key, bucket, status, progress_percent,
    result_json, error_json, created_at, updated_at, heartbeat_at, version`

// SQLiteJobStore implements domain.JobStore on a local SQLite file.
type SQLiteJobStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLiteJobStore opens (or creates) the database at path and applies the
// schema.
func OpenSQLiteJobStore(ctx context.Context, path string) (*SQLiteJobStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteJobStore{db: db, path: path, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteJobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteJobStore) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	rec, err := domain.PrepareNew(job, s.now())
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
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Filename,
		rec.ObjectKey,
		rec.Bucket,
		string(rec.Status),
		rec.ProgressPercent,
		nullableText(result),
		nullableText(jobErr),
		formatStoreTime(rec.CreatedAt),
		formatStoreTime(rec.UpdatedAt),
		nullableTime(rec.HeartbeatAt),
		rec.Version,
	)
	if err != nil {
		return nil, classifySQLiteError("insert job", err)
	}
	return rec, nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, classifySQLiteError("select job", err)
	}
	return job, nil
}

func (s *SQLiteJobStore) Update(ctx context.Context, jobID string, mutate domain.Mutator, expectedVersion int64) (*domain.Job, error) {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return current, domain.ErrVersionConflict
	}
	next, err := domain.ApplyMutation(current, mutate, s.now())
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
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, progress_percent = ?, result_json = ?, error_json = ?,
             updated_at = ?, heartbeat_at = ?, version = ?
         WHERE job_id = ? AND version = ?`,
		string(next.Status),
		next.ProgressPercent,
		nullableText(result),
		nullableText(jobErr),
		formatStoreTime(next.UpdatedAt),
		nullableTime(next.HeartbeatAt),
		next.Version,
		jobID,
		expectedVersion,
	)
	if err != nil {
		return nil, classifySQLiteError("update job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, classifySQLiteError("rows affected", err)
	}
	if affected == 0 {
		latest, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return latest, domain.ErrVersionConflict
	}
	return next, nil
}

func (s *SQLiteJobStore) ListStale(ctx context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs
         WHERE status = ? AND max(coalesce(heartbeat_at, updated_at), updated_at) < ?
         ORDER BY updated_at ASC
         LIMIT ?`,
		string(status), formatStoreTime(cutoff), limit,
	)
	if err != nil {
		return nil, classifySQLiteError("select stale jobs", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, classifySQLiteError("scan stale job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError("iterate stale jobs", err)
	}
	return out, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row sqliteScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		resultJSON  sql.NullString
		errorJSON   sql.NullString
		createdAt   string
		updatedAt   string
		heartbeatAt sql.NullString
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
		&createdAt,
		&updatedAt,
		&heartbeatAt,
		&job.Version,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)

	var err error
	if job.CreatedAt, err = parseStoreTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseStoreTime(updatedAt); err != nil {
		return nil, err
	}
	if heartbeatAt.Valid {
		hb, err := parseStoreTime(heartbeatAt.String)
		if err != nil {
			return nil, err
		}
		job.HeartbeatAt = &hb
	}
	if resultJSON.Valid {
		if job.Result, err = decodeResult([]byte(resultJSON.String)); err != nil {
			return nil, err
		}
	}
	if errorJSON.Valid {
		if job.Error, err = decodeJobError([]byte(errorJSON.String)); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func (s *SQLiteJobStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func classifySQLiteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
	case isSQLiteBusy(err):
		return fmt.Errorf("%s: %w", op, domain.Transient(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatStoreTime(*t)
}

var (
	_ domain.JobStore       = (*SQLiteJobStore)(nil)
	_ domain.StaleJobLister = (*SQLiteJobStore)(nil)
)

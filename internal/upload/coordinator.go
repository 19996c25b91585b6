package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"videojobs/internal/domain"
)

// Options configures a Coordinator.
type Options struct {
	Bucket            string
	CredentialTTL     time.Duration
	MaxFilenameLength int
}

// CreateJobOutput is returned to the client that requested an upload.
type CreateJobOutput struct {
	JobID      string     `json:"job_id"`
	ObjectKey  string     `json:"object_key"`
	Credential Credential `json:"upload_credential"`
}

// Coordinator registers upload jobs and hands out upload credentials. It never
// touches the trigger queue or the orchestrator.
type Coordinator struct {
	store     domain.JobStore
	presigner Presigner
	opts      Options
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

func NewCoordinator(store domain.JobStore, presigner Presigner, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = 15 * time.Minute
	}
	if opts.MaxFilenameLength <= 0 {
		opts.MaxFilenameLength = DefaultMaxFilenameLength
	}
	return &Coordinator{
		store:     store,
		presigner: presigner,
		opts:      opts,
		logger:    logger.With().Str("component", "upload").Logger(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// CreateJob validates filename, persists a PENDING job and issues a
// credential scoped to the job's object key.
func (c *Coordinator) CreateJob(ctx context.Context, filename string) (*CreateJobOutput, error) {
	safeName, err := SanitizeFilename(filename, c.opts.MaxFilenameLength)
	if err != nil {
		return nil, err
	}

	jobID := c.newID()
	objectKey := domain.ObjectKey(jobID, safeName)

	// presign before persisting so a signing failure leaves no orphan job
	cred, err := c.presigner.PresignPut(ctx, c.opts.Bucket, objectKey, c.opts.CredentialTTL)
	if err != nil {
		return nil, fmt.Errorf("issue upload credential: %w", err)
	}

	now := c.now().UTC()
	job, err := c.store.Create(ctx, &domain.Job{
		ID:        jobID,
		Filename:  strings.TrimSpace(filename),
		ObjectKey: objectKey,
		Bucket:    c.opts.Bucket,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	c.logger.Info().
		Str("job_id", job.ID).
		Str("object_key", job.ObjectKey).
		Time("credential_expires_at", cred.ExpiresAt).
		Msg("job created")

	return &CreateJobOutput{JobID: job.ID, ObjectKey: job.ObjectKey, Credential: cred}, nil
}

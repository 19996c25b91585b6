package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/storage"
	"videojobs/internal/trigger"
)

// DefaultMaxUploadBytes matches the S3 single-PUT limit.
const DefaultMaxUploadBytes int64 = 5 << 30

// Receiver accepts uploads made with LocalPresigner credentials. It plays the
// object storage role: write the object, then announce it on the trigger
// queue with an S3-shaped notification.
type Receiver struct {
	signer   *storage.Signer
	files    *storage.FileStore
	queue    trigger.Queue
	bucket   string
	maxBytes int64
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReceiver(signer *storage.Signer, files *storage.FileStore, queue trigger.Queue, bucket string, maxBytes int64, logger zerolog.Logger) *Receiver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Receiver{
		signer:   signer,
		files:    files,
		queue:    queue,
		bucket:   bucket,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "receiver").Logger(),
		now:      time.Now,
	}
}

// Accept verifies token, stores body under the key it grants and publishes
// the object-created notification. Repeating an upload overwrites the object
// and publishes again; the dispatcher treats the second event as a duplicate.
func (r *Receiver) Accept(ctx context.Context, token string, body io.Reader) (string, int64, error) {
	key, err := r.signer.Verify(token)
	if err != nil {
		return "", 0, err
	}
	key, size, err := r.files.WriteFrom(ctx, key, body, r.maxBytes)
	if err != nil {
		return "", 0, err
	}
	event, err := trigger.EncodeS3Event(r.bucket, key, size, r.now())
	if err != nil {
		return "", 0, fmt.Errorf("encode object event: %w", err)
	}
	if err := r.queue.Publish(ctx, event); err != nil {
		return "", 0, fmt.Errorf("publish object event: %w", err)
	}
	r.logger.Info().Str("object_key", key).Int64("size", size).Msg("object stored")
	return key, size, nil
}

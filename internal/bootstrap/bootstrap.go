// Package bootstrap builds the pipeline components selected by infra.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"videojobs/internal/adapter/repo"
	"videojobs/internal/infra"
	"videojobs/internal/storage"
	"videojobs/internal/trigger"
	"videojobs/internal/upload"
	"videojobs/internal/workflow"
)

// Resources holds the backends shared by the API, the worker and jobctl.
type Resources struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Store     workflow.StaleStore
	Queue     trigger.Queue
	Inspector storage.ObjectInspector
	Presigner upload.Presigner

	// Local object storage only.
	Files  *storage.FileStore
	Signer *storage.Signer

	redisQueue *trigger.RedisQueue
	aws        *infra.AWSClients
	pingers    []func(context.Context) error
	closers    []func()
}

// Open connects every backend named in cfg. Close releases them.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Resources, error) {
	r := &Resources{Config: cfg, Logger: logger}
	steps := []func(context.Context) error{r.openStore, r.openObjectStore, r.openQueue}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close releases backends in reverse order of opening.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Ping checks every backend that exposes a health check.
func (r *Resources) Ping(ctx context.Context) error {
	for _, ping := range r.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RecoverQueue returns messages a crashed consumer left in flight. Only the
// Redis queue needs it.
func (r *Resources) RecoverQueue(ctx context.Context) (int, error) {
	if r.redisQueue == nil {
		return 0, nil
	}
	return r.redisQueue.Recover(ctx)
}

func (r *Resources) awsClients(ctx context.Context) (*infra.AWSClients, error) {
	if r.aws != nil {
		return r.aws, nil
	}
	awsCfg, err := infra.LoadAWSConfig(ctx, r.Config)
	if err != nil {
		return nil, err
	}
	r.aws = infra.NewAWSClients(awsCfg, r.Config)
	return r.aws, nil
}

func (r *Resources) openStore(ctx context.Context) error {
	cfg := r.Config
	switch cfg.JobStore {
	case infra.JobStorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, pool.Close)
		r.pingers = append(r.pingers, pool.Ping)
		pg := repo.NewJobRepository(infra.NewSQLRunner(pool, r.Logger))
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate jobs table: %w", err)
		}
		r.Store = pg
	case infra.JobStoreSQLite:
		store, err := repo.OpenSQLiteJobStore(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, func() { _ = store.Close() })
		r.Store = store
	case infra.JobStoreDynamoDB:
		clients, err := r.awsClients(ctx)
		if err != nil {
			return err
		}
		r.Store = repo.NewDynamoJobStore(clients.DynamoDB, cfg.JobsTableName)
	case infra.JobStoreMemory:
		r.Logger.Warn().Msg("memory job store: jobs are lost on restart and not shared between processes")
		r.Store = repo.NewMemoryJobStore()
	default:
		return fmt.Errorf("unsupported JOB_STORE %q", cfg.JobStore)
	}
	r.Logger.Info().Str("job_store", cfg.JobStore).Msg("job store ready")
	return nil
}

func (r *Resources) openObjectStore(ctx context.Context) error {
	cfg := r.Config
	switch cfg.ObjectStore {
	case infra.ObjectStoreS3:
		clients, err := r.awsClients(ctx)
		if err != nil {
			return err
		}
		r.Inspector = storage.NewS3Inspector(clients.S3)
		r.Presigner = upload.NewS3Presigner(s3.NewPresignClient(clients.S3))
	case infra.ObjectStoreLocal:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		files, err := storage.NewFileStore(path)
		if err != nil {
			return fmt.Errorf("configure storage: %w", err)
		}
		r.Files = files
		r.Signer = storage.NewSigner(cfg.UploadSigningSecret)
		r.Inspector = files
		r.Presigner = upload.NewLocalPresigner(r.Signer, cfg.PublicBaseURL)
	default:
		return fmt.Errorf("unsupported OBJECT_STORE %q", cfg.ObjectStore)
	}
	return nil
}

func (r *Resources) openQueue(ctx context.Context) error {
	cfg := r.Config
	switch cfg.TriggerQueue {
	case infra.TriggerQueueSQS:
		clients, err := r.awsClients(ctx)
		if err != nil {
			return err
		}
		q := trigger.NewSQSQueue(clients.SQS, cfg.TriggerQueueURL)
		if cfg.QueueRetryBackoff > 0 {
			q.NackBackoff = cfg.QueueRetryBackoff
		}
		r.Queue = q
	case infra.TriggerQueueRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, func() { _ = client.Close() })
		r.pingers = append(r.pingers, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		r.redisQueue = trigger.NewRedisQueue(client, cfg.RedisQueueKey, consumerName())
		r.redisQueue.Retry = queueRetryPolicy(cfg)
		r.Queue = r.redisQueue
	case infra.TriggerQueueMemory:
		q := trigger.NewMemoryQueue()
		q.Retry = queueRetryPolicy(cfg)
		r.Queue = q
	default:
		return fmt.Errorf("unsupported TRIGGER_QUEUE %q", cfg.TriggerQueue)
	}
	return nil
}

// queueRetryPolicy applies QUEUE_MAX_ATTEMPTS and QUEUE_RETRY_BACKOFF. SQS
// dead-lettering follows the queue's redrive policy instead.
func queueRetryPolicy(cfg *infra.Config) trigger.RetryPolicy {
	p := trigger.DefaultRetryPolicy()
	p.MaxAttempts = cfg.QueueMaxAttempts
	p.Backoff = cfg.QueueRetryBackoff
	return p
}

// consumerName is stable across restarts of the same host so Recover finds
// the processing list a crashed run left behind.
func consumerName() string {
	if v := os.Getenv("WORKER_ID"); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-" + strconv.Itoa(os.Getpid())
	}
	return host
}

// Coordinator builds the Upload Coordinator.
func (r *Resources) Coordinator() *upload.Coordinator {
	return upload.NewCoordinator(r.Store, r.Presigner, upload.Options{
		Bucket:            r.Config.BucketName(),
		CredentialTTL:     r.Config.UploadURLTTL,
		MaxFilenameLength: r.Config.MaxFilenameLength,
	}, r.Logger)
}

// Receiver builds the local upload target, or returns nil when uploads go
// to S3.
func (r *Resources) Receiver() *upload.Receiver {
	if r.Files == nil || r.Signer == nil {
		return nil
	}
	return upload.NewReceiver(r.Signer, r.Files, r.Queue, r.Config.BucketName(), 0, r.Logger)
}

// Sweeper builds the stalled-job sweeper.
func (r *Resources) Sweeper() *workflow.Sweeper {
	return workflow.NewSweeper(r.Store, r.Config.StallTimeout, r.Config.SweepInterval, r.Logger)
}

var errNoStallTimeout = errors.New("STALL_TIMEOUT must be positive when the worker runs")

// heartbeatInterval keeps several heartbeats inside one stall window.
func heartbeatInterval(stall time.Duration) time.Duration {
	hb := stall / 4
	if hb > 30*time.Second {
		hb = 30 * time.Second
	}
	if hb < time.Second {
		hb = time.Second
	}
	return hb
}

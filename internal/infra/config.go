package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selectors.
const (
	JobStorePostgres = "postgres"
	JobStoreSQLite   = "sqlite"
	JobStoreDynamoDB = "dynamodb"
	JobStoreMemory   = "memory"

	ObjectStoreS3    = "s3"
	ObjectStoreLocal = "local"

	TriggerQueueSQS    = "sqs"
	TriggerQueueRedis  = "redis"
	TriggerQueueMemory = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	JobStore      string
	DatabaseURL   string
	SQLitePath    string
	JobsTableName string

	ObjectStore         string
	VideosBucketName    string
	StoragePath         string
	PublicBaseURL       string
	UploadSigningSecret string
	UploadURLTTL        time.Duration
	MaxFilenameLength   int

	TriggerQueue    string
	TriggerQueueURL string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisQueueKey   string

	QueueMaxAttempts  int
	QueueRetryBackoff time.Duration

	AWSRegion      string
	AWSEndpointURL string

	DispatchConcurrency int
	WorkflowConcurrency int
	StepTimeout         time.Duration
	StepAttempts        int
	StepBackoff         time.Duration
	StepDelay           time.Duration
	StallTimeout        time.Duration
	SweepInterval       time.Duration

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		LogLevel:            strings.ToLower(os.Getenv("LOG_LEVEL")),
		JobStore:            strings.ToLower(getEnv("JOB_STORE", JobStorePostgres)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          getEnv("SQLITE_PATH", "./data/jobs.db"),
		JobsTableName:       os.Getenv("JOBS_TABLE_NAME"),
		ObjectStore:         strings.ToLower(getEnv("OBJECT_STORE", ObjectStoreLocal)),
		VideosBucketName:    os.Getenv("VIDEOS_BUCKET_NAME"),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		UploadSigningSecret: os.Getenv("UPLOAD_SIGNING_SECRET"),
		UploadURLTTL:        getEnvDuration("UPLOAD_URL_TTL", 15*time.Minute),
		MaxFilenameLength:   getEnvInt("MAX_FILENAME_LENGTH", 255),
		TriggerQueue:        strings.ToLower(getEnv("TRIGGER_QUEUE", TriggerQueueRedis)),
		TriggerQueueURL:     os.Getenv("TRIGGER_QUEUE_URL"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		RedisQueueKey:       getEnv("REDIS_QUEUE_KEY", "videojobs:uploads"),
		QueueMaxAttempts:    getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueRetryBackoff:   getEnvDuration("QUEUE_RETRY_BACKOFF", 5*time.Second),
		AWSRegion:           getEnv("AWS_REGION", "eu-north-1"),
		AWSEndpointURL:      os.Getenv("AWS_ENDPOINT_URL"),
		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 4),
		WorkflowConcurrency: getEnvInt("WORKFLOW_CONCURRENCY", 8),
		StepTimeout:         getEnvDuration("STEP_TIMEOUT", 2*time.Minute),
		StepAttempts:        getEnvInt("STEP_ATTEMPTS", 3),
		StepBackoff:         getEnvDuration("STEP_BACKOFF", 2*time.Second),
		StepDelay:           getEnvDuration("STEP_DELAY", time.Second),
		StallTimeout:        getEnvDuration("STALL_TIMEOUT", 10*time.Minute),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
	}
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+cfg.Port), "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.JobStore {
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for JOB_STORE=%s", c.JobStore)
		}
	case JobStoreDynamoDB:
		if c.JobsTableName == "" {
			return fmt.Errorf("JOBS_TABLE_NAME is required for JOB_STORE=%s", c.JobStore)
		}
	case JobStoreSQLite, JobStoreMemory:
	default:
		return fmt.Errorf("unsupported JOB_STORE %q", c.JobStore)
	}

	switch c.ObjectStore {
	case ObjectStoreS3:
		if c.VideosBucketName == "" {
			return fmt.Errorf("VIDEOS_BUCKET_NAME is required for OBJECT_STORE=%s", c.ObjectStore)
		}
	case ObjectStoreLocal:
		if c.UploadSigningSecret == "" {
			return fmt.Errorf("UPLOAD_SIGNING_SECRET is required for OBJECT_STORE=%s", c.ObjectStore)
		}
	default:
		return fmt.Errorf("unsupported OBJECT_STORE %q", c.ObjectStore)
	}

	switch c.TriggerQueue {
	case TriggerQueueSQS:
		if c.TriggerQueueURL == "" {
			return fmt.Errorf("TRIGGER_QUEUE_URL is required for TRIGGER_QUEUE=%s", c.TriggerQueue)
		}
	case TriggerQueueRedis, TriggerQueueMemory:
	default:
		return fmt.Errorf("unsupported TRIGGER_QUEUE %q", c.TriggerQueue)
	}

	if c.UploadURLTTL <= 0 {
		return fmt.Errorf("UPLOAD_URL_TTL must be positive")
	}
	if c.MaxFilenameLength <= 0 {
		return fmt.Errorf("MAX_FILENAME_LENGTH must be positive")
	}
	if c.QueueRetryBackoff < 0 {
		return fmt.Errorf("QUEUE_RETRY_BACKOFF must not be negative")
	}
	if c.StepAttempts <= 0 {
		c.StepAttempts = 1
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = 1
	}
	if c.WorkflowConcurrency <= 0 {
		c.WorkflowConcurrency = 1
	}
	return nil
}

// BucketName returns the logical bucket recorded on jobs.
func (c *Config) BucketName() string {
	if c.ObjectStore == ObjectStoreLocal && c.VideosBucketName == "" {
		return "local"
	}
	return c.VideosBucketName
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

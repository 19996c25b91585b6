package bootstrap

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/adapter/repo"
	"videojobs/internal/domain"
	"videojobs/internal/infra"
	"videojobs/internal/trigger"
)

func localConfig(t *testing.T) *infra.Config {
	t.Helper()
	t.Setenv("JOB_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/jobs.db")
	t.Setenv("OBJECT_STORE", "local")
	t.Setenv("STORAGE_PATH", t.TempDir())
	t.Setenv("UPLOAD_SIGNING_SECRET", "test-secret")
	t.Setenv("TRIGGER_QUEUE", "memory")
	t.Setenv("STEP_DELAY", "1ms")
	t.Setenv("STALL_TIMEOUT", "1m")
	cfg, err := infra.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	return cfg
}

func TestOpenLocalBackends(t *testing.T) {
	t.Setenv("QUEUE_MAX_ATTEMPTS", "7")
	t.Setenv("QUEUE_RETRY_BACKOFF", "2s")
	res, err := Open(context.Background(), localConfig(t), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer res.Close()

	if _, ok := res.Store.(*repo.SQLiteJobStore); !ok {
		t.Fatalf("store = %T, want sqlite", res.Store)
	}
	q, ok := res.Queue.(*trigger.MemoryQueue)
	if !ok {
		t.Fatalf("queue = %T, want memory", res.Queue)
	}
	if q.Retry.MaxAttempts != 7 || q.Retry.Backoff != 2*time.Second {
		t.Fatalf("queue retry policy not applied: %+v", q.Retry)
	}
	if res.Receiver() == nil {
		t.Fatal("local object store must expose a receiver")
	}
	if err := res.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestWorkerProcessesUploadedJob(t *testing.T) {
	res, err := Open(context.Background(), localConfig(t), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer res.Close()
	res.Queue.(*trigger.MemoryQueue).Wait = 10 * time.Millisecond

	worker, err := res.NewWorker()
	if err != nil {
		t.Fatalf("NewWorker error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	out, err := res.Coordinator().CreateJob(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	token := strings.TrimPrefix(out.Credential.URL, res.Config.PublicBaseURL+"/v1/uploads/")
	if _, _, err := res.Receiver().Accept(context.Background(), token, strings.NewReader("bytes")); err != nil {
		t.Fatalf("Accept error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var job *domain.Job
	for time.Now().Before(deadline) {
		job, err = res.Store.Get(context.Background(), out.JobID)
		if err == nil && job.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker Run error: %v", err)
	}
	if job == nil || job.Status != domain.JobStatusCompleted {
		t.Fatalf("job not completed: %+v", job)
	}
}

func TestNewWorkerRequiresStallTimeout(t *testing.T) {
	cfg := localConfig(t)
	cfg.StallTimeout = 0
	res, err := Open(context.Background(), cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer res.Close()
	if _, err := res.NewWorker(); err == nil {
		t.Fatal("expected error without stall timeout")
	}
}

func TestHeartbeatInterval(t *testing.T) {
	tests := []struct {
		stall time.Duration
		want  time.Duration
	}{
		{stall: 10 * time.Minute, want: 30 * time.Second},
		{stall: time.Minute, want: 15 * time.Second},
		{stall: 2 * time.Second, want: time.Second},
	}
	for _, tc := range tests {
		if got := heartbeatInterval(tc.stall); got != tc.want {
			t.Fatalf("heartbeatInterval(%v) = %v, want %v", tc.stall, got, tc.want)
		}
	}
}

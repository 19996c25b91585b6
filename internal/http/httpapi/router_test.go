package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/adapter/repo"
	"videojobs/internal/dispatch"
	"videojobs/internal/domain"
	"videojobs/internal/http/handlers"
	"videojobs/internal/status"
	"videojobs/internal/storage"
	"videojobs/internal/trigger"
	"videojobs/internal/upload"
	"videojobs/internal/workflow"
)

// startCounter counts PENDING to PROCESSING transitions.
type startCounter struct {
	domain.JobStore
	mu     sync.Mutex
	starts map[string]int
}

func (s *startCounter) Update(ctx context.Context, id string, m domain.Mutator, v int64) (*domain.Job, error) {
	before, err := s.JobStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := s.JobStore.Update(ctx, id, m, v)
	if err == nil && before.Status == domain.JobStatusPending && job.Status == domain.JobStatusProcessing {
		s.mu.Lock()
		s.starts[id]++
		s.mu.Unlock()
	}
	return job, err
}

func (s *startCounter) startsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts[id]
}

type pipeline struct {
	server *httptest.Server
	store  *startCounter
	queue  *trigger.MemoryQueue
	disp   *dispatch.Dispatcher
	orch   *workflow.Orchestrator
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := zerolog.New(io.Discard)

	store := &startCounter{JobStore: repo.NewMemoryJobStore(), starts: map[string]int{}}
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	signer := storage.NewSigner("test-secret")
	queue := trigger.NewMemoryQueue()
	queue.Wait = 20 * time.Millisecond

	coordinator := upload.NewCoordinator(store, upload.NewLocalPresigner(signer, "http://api.test"),
		upload.Options{Bucket: "local"}, logger)
	orch, err := workflow.NewOrchestrator(store, workflow.DefaultSteps(files, workflow.StepConfig{}, nil),
		workflow.Options{Concurrency: 2, HeartbeatInterval: -1}, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator error: %v", err)
	}

	app := handlers.NewApp(coordinator, status.NewReader(store), logger)
	app.Uploads = upload.NewReceiver(signer, files, queue, "local", 0, logger)
	srv := httptest.NewServer(NewRouter(app, RouterOptions{Logger: logger, CreateRateLimit: 100}))
	t.Cleanup(srv.Close)

	return &pipeline{
		server: srv,
		store:  store,
		queue:  queue,
		disp:   dispatch.New(store, queue, orch, 2, logger),
		orch:   orch,
	}
}

func (p *pipeline) createJob(t *testing.T, filename string) upload.CreateJobOutput {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"filename": filename})
	resp, err := http.Post(p.server.URL+"/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out upload.CreateJobOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return out
}

func (p *pipeline) upload(t *testing.T, cred upload.Credential, payload string) int {
	t.Helper()
	u, err := url.Parse(cred.URL)
	if err != nil {
		t.Fatalf("parse credential url: %v", err)
	}
	req, err := http.NewRequest(cred.Method, p.server.URL+u.Path, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func (p *pipeline) getJob(t *testing.T, id string) (int, domain.JobView) {
	t.Helper()
	resp, err := http.Get(p.server.URL + "/v1/jobs/" + id)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	var view domain.JobView
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
	}
	return resp.StatusCode, view
}

func TestPipelineDuplicateNotificationStartsOnce(t *testing.T) {
	p := newPipeline(t)

	created := p.createJob(t, "clip.mp4")
	if !strings.Contains(created.ObjectKey, created.JobID) {
		t.Fatalf("object key %q does not contain job id", created.ObjectKey)
	}
	code, view := p.getJob(t, created.JobID)
	if code != http.StatusOK || view.Status != domain.JobStatusPending {
		t.Fatalf("fresh job: code=%d status=%s", code, view.Status)
	}

	// two uploads of the same object produce two notifications
	for i := 0; i < 2; i++ {
		if code := p.upload(t, created.Credential, "video-bytes"); code != http.StatusOK {
			t.Fatalf("upload %d status = %d", i, code)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.disp.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, view = p.getJob(t, created.JobID)
		if view.Status.Terminal() && p.queue.Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last view %+v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := p.orch.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	if view.Status != domain.JobStatusCompleted || view.ProgressPercent != 100 {
		t.Fatalf("final view %+v", view)
	}
	if view.Result == nil || view.Error != nil {
		t.Fatalf("completed job must carry result only: %+v", view)
	}
	if n := p.store.startsFor(created.JobID); n != 1 {
		t.Fatalf("PROCESSING transitions = %d, want 1", n)
	}
}

func TestForeignNotificationIsDropped(t *testing.T) {
	p := newPipeline(t)
	created := p.createJob(t, "clip.mp4")

	body, err := trigger.EncodeS3Event("local", "thumbnails/other.png", 10, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := p.queue.Publish(context.Background(), body); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deliveries, err := p.queue.Receive(context.Background())
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("receive: %v %d", err, len(deliveries))
	}
	p.disp.HandleDelivery(context.Background(), deliveries[0])

	if p.queue.Len() != 0 {
		t.Fatalf("foreign message not acknowledged")
	}
	_, view := p.getJob(t, created.JobID)
	if view.Status != domain.JobStatusPending {
		t.Fatalf("job mutated by foreign event: %+v", view)
	}
}

func TestRouterErrors(t *testing.T) {
	p := newPipeline(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown job", method: http.MethodGet, path: "/v1/jobs/8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1", want: http.StatusNotFound},
		{name: "empty filename", method: http.MethodPost, path: "/v1/jobs", body: `{"filename":"  "}`, want: http.StatusBadRequest},
		{name: "traversal filename", method: http.MethodPost, path: "/v1/jobs", body: `{"filename":"../.."}`, want: http.StatusBadRequest},
		{name: "forged upload token", method: http.MethodPut, path: "/v1/uploads/forged", body: "x", want: http.StatusForbidden},
		{name: "health", method: http.MethodGet, path: "/v1/healthz", want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, p.server.URL+tc.path, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Fatal("missing X-Request-ID")
			}
		})
	}
}

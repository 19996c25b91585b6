package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"videojobs/internal/domain"
	"videojobs/internal/storage"
	"videojobs/internal/upload"
)

type stubCreator struct {
	out *upload.CreateJobOutput
	err error
	got string
}

func (s *stubCreator) CreateJob(_ context.Context, filename string) (*upload.CreateJobOutput, error) {
	s.got = filename
	return s.out, s.err
}

type stubStatus struct {
	view domain.JobView
	err  error
}

func (s stubStatus) GetStatus(context.Context, string) (domain.JobView, error) {
	return s.view, s.err
}

type stubAcceptor struct{ err error }

func (s stubAcceptor) Accept(_ context.Context, _ string, body io.Reader) (string, int64, error) {
	if s.err != nil {
		return "", 0, s.err
	}
	n, _ := io.Copy(io.Discard, body)
	return "uploads/x/clip.mp4", n, nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestCreateJob(t *testing.T) {
	creator := &stubCreator{out: &upload.CreateJobOutput{
		JobID:      "8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1",
		ObjectKey:  "uploads/8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1/clip.mp4",
		Credential: upload.Credential{URL: "https://example.test/put", Method: http.MethodPut},
	}}
	app := NewApp(creator, stubStatus{}, zerolog.New(io.Discard))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"filename":"clip.mp4"}`))
	rr := httptest.NewRecorder()
	app.CreateJob(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	if creator.got != "clip.mp4" {
		t.Fatalf("filename passed = %q", creator.got)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"job_id", "object_key", "upload_credential"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("response missing %q: %v", key, payload)
		}
	}
}

func TestCreateJobErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "malformed body", body: `{`, wantCode: http.StatusBadRequest, wantErr: "invalid_input"},
		{name: "invalid filename", body: `{"filename":""}`, err: fmt.Errorf("%w: filename is required", domain.ErrInvalidInput), wantCode: http.StatusBadRequest, wantErr: "invalid_input"},
		{name: "store unavailable", body: `{"filename":"a.mp4"}`, err: domain.Transient(fmt.Errorf("dial tcp")), wantCode: http.StatusServiceUnavailable, wantErr: "transient_io"},
		{name: "unexpected", body: `{"filename":"a.mp4"}`, err: fmt.Errorf("boom"), wantCode: http.StatusInternalServerError, wantErr: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(&stubCreator{err: tc.err}, stubStatus{}, zerolog.New(io.Discard))
			rr := httptest.NewRecorder()
			app.CreateJob(rr, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tc.body)))
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantCode)
			}
			if got := decodeError(t, rr); got != tc.wantErr {
				t.Fatalf("error code = %q, want %q", got, tc.wantErr)
			}
		})
	}
}

func getJob(app *App, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	app.GetJob(rr, req)
	return rr
}

func TestGetJob(t *testing.T) {
	view := domain.JobView{JobID: "8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1", Status: domain.JobStatusProcessing, Filename: "clip.mp4", ProgressPercent: 50}
	app := NewApp(nil, stubStatus{view: view}, zerolog.New(io.Discard))

	rr := getJob(app, view.JobID)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got domain.JobView
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.JobID != view.JobID || got.ProgressPercent != 50 || got.Status != domain.JobStatusProcessing {
		t.Fatalf("unexpected view %+v", got)
	}
}

func TestGetJobNotFound(t *testing.T) {
	app := NewApp(nil, stubStatus{err: domain.ErrNotFound}, zerolog.New(io.Discard))
	rr := getJob(app, "missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if got := decodeError(t, rr); got != "not_found" {
		t.Fatalf("error code = %q", got)
	}
}

func TestPutUpload(t *testing.T) {
	tests := []struct {
		name     string
		uploads  UploadAcceptor
		wantCode int
	}{
		{name: "accepted", uploads: stubAcceptor{}, wantCode: http.StatusOK},
		{name: "expired token", uploads: stubAcceptor{err: storage.ErrTokenExpired}, wantCode: http.StatusForbidden},
		{name: "bad token", uploads: stubAcceptor{err: storage.ErrInvalidToken}, wantCode: http.StatusForbidden},
		{name: "too large", uploads: stubAcceptor{err: fmt.Errorf("%w: object too large", domain.ErrInvalidInput)}, wantCode: http.StatusBadRequest},
		{name: "disabled", uploads: nil, wantCode: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(nil, nil, zerolog.New(io.Discard))
			app.Uploads = tc.uploads
			rr := httptest.NewRecorder()
			app.PutUpload(rr, httptest.NewRequest(http.MethodPut, "/v1/uploads/tok", strings.NewReader("bytes")))
			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantCode)
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	app := NewApp(nil, nil, zerolog.New(io.Discard))
	app.Ready = func(context.Context) error { return fmt.Errorf("db down") }
	rr := httptest.NewRecorder()
	app.Readiness(rr, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}

	app.Ready = nil
	rr = httptest.NewRecorder()
	app.Readiness(rr, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

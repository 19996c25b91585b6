package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"videojobs/internal/domain"
	"videojobs/internal/upload"
)

func setLocalEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("JOB_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "jobs.db"))
	t.Setenv("OBJECT_STORE", "local")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "objects"))
	t.Setenv("UPLOAD_SIGNING_SECRET", "test-secret")
	t.Setenv("TRIGGER_QUEUE", "memory")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateThenGet(t *testing.T) {
	setLocalEnv(t)

	out, err := run(t, "create", "clip.mp4", "--json")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	var created upload.CreateJobOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output %q: %v", out, err)
	}
	if created.JobID == "" || !strings.Contains(created.ObjectKey, created.JobID) {
		t.Fatalf("unexpected create output %+v", created)
	}

	out, err = run(t, "get", created.JobID, "--json")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	var view domain.JobView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode get output %q: %v", out, err)
	}
	if view.Status != domain.JobStatusPending || view.Filename != "clip.mp4" {
		t.Fatalf("unexpected view %+v", view)
	}

	out, err = run(t, "get", created.JobID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !strings.Contains(out, "Status: PENDING (0%)") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestGetUnknownJob(t *testing.T) {
	setLocalEnv(t)
	if _, err := run(t, "get", "8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestNotifyAndSweep(t *testing.T) {
	setLocalEnv(t)

	out, err := run(t, "notify", "uploads/8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1/clip.mp4")
	if err != nil {
		t.Fatalf("notify error: %v", err)
	}
	if !strings.Contains(out, "local/uploads/8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1/clip.mp4") {
		t.Fatalf("unexpected notify output %q", out)
	}

	out, err = run(t, "sweep", "--json")
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	var swept map[string]int
	if err := json.Unmarshal([]byte(out), &swept); err != nil || swept["failed"] != 0 {
		t.Fatalf("unexpected sweep output %q (%v)", out, err)
	}
}

func TestCreateRejectsBadArgs(t *testing.T) {
	setLocalEnv(t)
	if _, err := run(t, "create"); err == nil {
		t.Fatal("expected argument error")
	}
}

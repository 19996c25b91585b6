package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"videojobs/internal/adapter/repo"
	"videojobs/internal/domain"
)

func TestGetStatus(t *testing.T) {
	store := repo.NewMemoryJobStore()
	id := uuid.NewString()
	if _, err := store.Create(context.Background(), &domain.Job{
		ID:        id,
		Filename:  "clip.mp4",
		ObjectKey: domain.ObjectKey(id, "clip.mp4"),
		Status:    domain.JobStatusPending,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := NewReader(store).GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus error: %v", err)
	}
	if view.JobID != id || view.Status != domain.JobStatusPending || view.Filename != "clip.mp4" {
		t.Fatalf("unexpected view %+v", view)
	}

	raw, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"job_id", "status", "filename", "progress_percent", "result", "error", "created_at", "updated_at"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("wire shape missing %q: %s", key, raw)
		}
	}
	if wire["result"] != nil || wire["error"] != nil {
		t.Fatalf("pending job should carry null result and error: %s", raw)
	}
	if len(wire) != 8 {
		t.Fatalf("unexpected extra fields: %s", raw)
	}
}

func TestGetStatusErrors(t *testing.T) {
	r := NewReader(repo.NewMemoryJobStore())
	if _, err := r.GetStatus(context.Background(), uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetStatus(context.Background(), " "); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("blank id: expected ErrNotFound, got %v", err)
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

func pendingJob() *Job {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Job{
		ID:        "8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1",
		Filename:  "clip.mp4",
		ObjectKey: "uploads/8f14e45f-ceea-467f-a8f2-4bd2c7c1e7a1/clip.mp4",
		Status:    JobStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
		Version:   1,
	}
}

func TestApplyMutationLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	job := pendingJob()

	started, err := ApplyMutation(job, StartProcessing(now), now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != JobStatusProcessing || started.Version != 2 {
		t.Fatalf("unexpected started job: %+v", started)
	}
	if job.Status != JobStatusPending || job.Version != 1 {
		t.Fatalf("input snapshot mutated: %+v", job)
	}
	if !started.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", started.UpdatedAt, now)
	}

	progressed, err := ApplyMutation(started, SetProgress(50, now), now)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progressed.ProgressPercent != 50 || progressed.Version != 3 {
		t.Fatalf("unexpected progressed job: %+v", progressed)
	}

	if _, err := ApplyMutation(progressed, SetProgress(25, now), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("regressing progress: got %v, want ErrInvalidTransition", err)
	}

	done, err := ApplyMutation(progressed, Complete(Result{"format": "mp4"}), now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != JobStatusCompleted || done.ProgressPercent != 100 || done.Result == nil || done.Error != nil {
		t.Fatalf("unexpected completed job: %+v", done)
	}

	if _, err := ApplyMutation(done, StartProcessing(now), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("restart after completion: got %v, want ErrInvalidTransition", err)
	}
	if _, err := ApplyMutation(done, Fail(JobError{Message: "late"}), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail after completion: got %v, want ErrInvalidTransition", err)
	}
}

func TestApplyMutationFailClearsResult(t *testing.T) {
	now := time.Now()
	started, err := ApplyMutation(pendingJob(), StartProcessing(now), now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	failed, err := ApplyMutation(started, Fail(JobError{Step: "transcode", Message: "boom"}), now)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != JobStatusFailed || failed.Result != nil || failed.Error == nil {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	if failed.Error.Code != KindStepFailure || failed.Error.Step != "transcode" {
		t.Fatalf("unexpected error detail: %+v", failed.Error)
	}
}

func TestApplyMutationRejectsImmutableChanges(t *testing.T) {
	now := time.Now()
	_, err := ApplyMutation(pendingJob(), func(j *Job) error {
		j.ObjectKey = "uploads/other/clip.mp4"
		return nil
	}, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestApplyMutationRejectsSkippingProcessing(t *testing.T) {
	now := time.Now()
	_, err := ApplyMutation(pendingJob(), func(j *Job) error {
		j.Status = JobStatusCompleted
		j.Result = Result{}
		return nil
	}, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	job := pendingJob()
	job.Status = JobStatusCompleted
	job.Result = Result{"analysis": map[string]any{"objects": []any{"person"}}}
	clone := job.Clone()
	clone.Result["analysis"].(map[string]any)["objects"].([]any)[0] = "screen"
	got := job.Result["analysis"].(map[string]any)["objects"].([]any)[0]
	if got != "person" {
		t.Fatalf("clone shares nested state: %v", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotFound, KindNotFound},
		{Transient(errors.New("dial tcp")), KindTransientIO},
		{&StepError{Step: "transcode", Attempts: 3, Cause: Transient(errors.New("x"))}, KindStepFailure},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

package workflow

import (
	"context"
	"errors"
	"math"
	"time"

	"videojobs/internal/domain"
	"videojobs/internal/storage"
)

// Step names of the default video pipeline.
const (
	StepAnalyzeMetadata = "analyze_metadata"
	StepTranscode       = "transcode"
	StepMLAnalysis      = "ml_analysis"
	StepStoreResults    = "store_results"
)

// StepConfig is shared by every default step.
type StepConfig struct {
	// Delay simulates the work each step would do.
	Delay   time.Duration
	Timeout time.Duration
	Retry   RetryPolicy
}

// DefaultSteps returns the simulated video pipeline. Only analyze_metadata
// touches storage; the rest stand in for transcoding and analysis services.
func DefaultSteps(inspector storage.ObjectInspector, cfg StepConfig, now func() time.Time) []Step {
	if now == nil {
		now = time.Now
	}
	mk := func(name string, progress int, run StepFunc) Step {
		return Step{Name: name, Progress: progress, Timeout: cfg.Timeout, Retry: cfg.Retry, Run: run}
	}
	return []Step{
		mk(StepAnalyzeMetadata, 25, analyzeMetadata(inspector, cfg.Delay)),
		mk(StepTranscode, 50, transcode(cfg.Delay)),
		mk(StepMLAnalysis, 75, mlAnalysis(cfg.Delay)),
		mk(StepStoreResults, 100, storeResults(cfg.Delay, now)),
	}
}

func analyzeMetadata(inspector storage.ObjectInspector, delay time.Duration) StepFunc {
	return func(ctx context.Context, jc *JobContext) (StepOutcome, error) {
		if err := sleep(ctx, delay); err != nil {
			return StepOutcome{}, err
		}
		var sizeMB float64
		info, err := inspector.Stat(ctx, jc.Bucket, jc.ObjectKey)
		switch {
		case err == nil:
			sizeMB = math.Round(float64(info.Size)/(1024*1024)*100) / 100
		case errors.Is(err, domain.ErrNotFound):
			// the notification proved the write; a missing object reads as empty
			jc.Logger.Warn().Str("object_key", jc.ObjectKey).Msg("object not found, reporting size 0")
		case domain.IsTransient(err):
			return StepOutcome{}, err
		default:
			return StepOutcome{}, Permanent(err)
		}
		return StepOutcome{Set: map[string]any{"file_size_mb": sizeMB}}, nil
	}
}

func transcode(delay time.Duration) StepFunc {
	return func(ctx context.Context, jc *JobContext) (StepOutcome, error) {
		if err := sleep(ctx, delay); err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Set: map[string]any{
			"duration_seconds": 120,
			"format":           "mp4",
			"resolution":       "1920x1080",
		}}, nil
	}
}

func mlAnalysis(delay time.Duration) StepFunc {
	return func(ctx context.Context, jc *JobContext) (StepOutcome, error) {
		if err := sleep(ctx, delay); err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Set: map[string]any{
			"analysis": map[string]any{
				"gaze_points":      1500,
				"objects_detected": []any{"person", "screen", "keyboard"},
				"attention_score":  0.85,
			},
		}}, nil
	}
}

func storeResults(delay time.Duration, now func() time.Time) StepFunc {
	return func(ctx context.Context, jc *JobContext) (StepOutcome, error) {
		if err := sleep(ctx, delay); err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Set: map[string]any{
			"processed_at": now().UTC().Format(time.RFC3339),
		}}, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package bootstrap

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"videojobs/internal/dispatch"
	"videojobs/internal/workflow"
)

// Worker runs the Dispatcher and the stalled-job sweeper over one
// Orchestrator.
type Worker struct {
	Dispatcher   *dispatch.Dispatcher
	Orchestrator *workflow.Orchestrator
	Sweeper      *workflow.Sweeper

	resources    *Resources
	drainTimeout time.Duration
	logger       zerolog.Logger
}

// NewWorker wires the processing side of the pipeline.
func (r *Resources) NewWorker() (*Worker, error) {
	cfg := r.Config
	if cfg.StallTimeout <= 0 {
		return nil, errNoStallTimeout
	}
	steps := workflow.DefaultSteps(r.Inspector, workflow.StepConfig{
		Delay:   cfg.StepDelay,
		Timeout: cfg.StepTimeout,
		Retry:   workflow.RetryPolicy{Attempts: cfg.StepAttempts, Backoff: cfg.StepBackoff},
	}, nil)
	orch, err := workflow.NewOrchestrator(r.Store, steps, workflow.Options{
		Concurrency:       cfg.WorkflowConcurrency,
		HeartbeatInterval: heartbeatInterval(cfg.StallTimeout),
	}, r.Logger)
	if err != nil {
		return nil, err
	}
	return &Worker{
		Dispatcher:   dispatch.New(r.Store, r.Queue, orch, cfg.DispatchConcurrency, r.Logger),
		Orchestrator: orch,
		Sweeper:      r.Sweeper(),
		resources:    r,
		drainTimeout: cfg.StepTimeout + 30*time.Second,
		logger:       r.Logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Run blocks until ctx is done, then drains active workflow runs. Runs still
// active after the drain timeout are canceled and left to the sweeper.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.resources.RecoverQueue(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("recover in-flight messages failed")
	} else if n > 0 {
		w.logger.Info().Int("messages", n).Msg("recovered in-flight messages")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Dispatcher.Run(gctx) })
	g.Go(func() error { return w.Sweeper.Run(gctx) })
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()
	if err := w.Orchestrator.Shutdown(drainCtx); err != nil {
		w.logger.Warn().Err(err).Msg("workflow runs canceled before finishing")
	}
	return runErr
}

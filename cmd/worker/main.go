package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"videojobs/internal/bootstrap"
	"videojobs/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if cfg.TriggerQueue == infra.TriggerQueueMemory {
		logger.Warn().Msg("worker: memory trigger queue only sees messages published in this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open backends")
	}
	defer res.Close()

	worker, err := res.NewWorker()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure")
	}

	logger.Info().
		Str("job_store", cfg.JobStore).
		Str("trigger_queue", cfg.TriggerQueue).
		Int("dispatch_concurrency", cfg.DispatchConcurrency).
		Int("workflow_concurrency", cfg.WorkflowConcurrency).
		Msg("worker: started")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}

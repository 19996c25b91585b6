package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"videojobs/internal/bootstrap"
	"videojobs/internal/http/handlers"
	httpapi "videojobs/internal/http/httpapi"
	"videojobs/internal/infra"
	"videojobs/internal/status"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open backends")
	}
	defer res.Close()

	app := handlers.NewApp(res.Coordinator(), statusReader(res), infra.Component(logger, "http"))
	app.Ready = res.Ping
	if recv := res.Receiver(); recv != nil {
		app.Uploads = recv
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          infra.Component(logger, "access"),
		CORSOrigins:     cfg.CORSAllowedOrigins,
		CreateRateLimit: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	// an in-process queue is invisible to a separate worker
	workerDone := make(chan struct{})
	if cfg.TriggerQueue == infra.TriggerQueueMemory {
		worker, err := res.NewWorker()
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure embedded worker")
		}
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("api: embedded worker stopped with error")
			}
		}()
		logger.Info().Msg("api: running embedded worker on the memory queue")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	<-workerDone
	logger.Info().Msg("server stopped")
}

func statusReader(res *bootstrap.Resources) handlers.StatusGetter {
	return status.NewReader(res.Store)
}

package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"videojobs/internal/bootstrap"
	"videojobs/internal/infra"
)

// commandContext carries the persistent flags and opens backends per command.
type commandContext struct {
	envFile  *string
	jsonMode *bool
}

func newCommandContext(envFile *string, jsonMode *bool) *commandContext {
	return &commandContext{envFile: envFile, jsonMode: jsonMode}
}

func (c *commandContext) JSONMode() bool {
	return c.jsonMode != nil && *c.jsonMode
}

// withResources opens the configured backends, runs fn and closes them.
func (c *commandContext) withResources(ctx context.Context, fn func(*bootstrap.Resources) error) error {
	res, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()
	return fn(res)
}

func (c *commandContext) open(ctx context.Context) (*bootstrap.Resources, error) {
	if c.envFile != nil && *c.envFile != "" {
		if err := godotenv.Load(*c.envFile); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	// keep stdout for command output
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			logger = logger.Level(lvl)
		}
	}
	return bootstrap.Open(ctx, cfg, logger)
}

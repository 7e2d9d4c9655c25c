package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/logger"
	"npc-voice/internal/infra/tracer"
)

// shutdownTimeout bounds saving memories and draining events on exit.
const shutdownTimeout = 2 * time.Minute

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the game endpoint until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}

	// A missing file runs on defaults so a first start needs no setup.
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracer(tctx)
	}()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info("npc-voice starting",
		"version", version,
		"game", string(cfg.Game.Name),
		"model", cfg.LLM.Provider.Model,
		"functions", app.functionCount,
	)

	serveErr := app.server.Start(ctx)

	// Memories are saved with a fresh context: the signal context is done.
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(sctx)
	log.Info("npc-voice stopped")
	return serveErr
}

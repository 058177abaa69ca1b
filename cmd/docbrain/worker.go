package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// WorkerCmd runs queue workers without the API server, for deployments
// that scale ingestion and answering separately from the HTTP tier.
type WorkerCmd struct{}

func (c *WorkerCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue workers: %w", err)
	}
	defer stopQueue(rt)

	slog.Info("Workers running",
		"workers", cfg.Jobs.Workers,
		"database", cfg.Database.DSN,
	)

	<-ctx.Done()
	return nil
}

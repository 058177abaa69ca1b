package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/auth"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/ingest"
	"github.com/docbrain-ai/docbrain/pkg/server"
)

// ServeCmd starts the API server with embedded queue workers.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
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

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	validator, err := auth.NewValidatorFromConfig(&cfg.Auth)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg.Server, server.Deps{
		Store:     rt.store,
		Ingest:    rt.ingest,
		Router:    rt.router,
		Obs:       rt.obs,
		Validator: validator,
	})
	if err != nil {
		return err
	}

	if err := rt.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue workers: %w", err)
	}
	defer stopQueue(rt)

	// Optional watch-folder source from config.
	if cfg.Ingestion.Watch.Enabled {
		source, err := ingest.NewSource(cfg.Ingestion.Watch, rt.ingest)
		if err != nil {
			return fmt.Errorf("failed to create watch source: %w", err)
		}
		if err := source.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watch source: %w", err)
		}
		defer func() { _ = source.Stop() }()
	}

	printServeInfo(cfg, srv.Address(), validator != nil)

	// Blocks until the context is cancelled.
	return srv.Start(ctx)
}

func stopQueue(rt *runtime) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := rt.queue.Stop(stopCtx); err != nil {
		slog.Warn("Queue stop failed", "error", err)
	}
}

func printServeInfo(cfg *config.Config, addr string, authEnabled bool) {
	green := "\033[38;2;16;185;129m"
	reset := "\033[0m"
	if fi, err := os.Stdout.Stat(); err != nil || (fi.Mode()&os.ModeCharDevice) == 0 {
		green, reset = "", ""
	}

	fmt.Printf("\n%sDocBrain server ready%s\n", green, reset)
	fmt.Printf("   API:      http://%s/v1\n", addr)
	fmt.Printf("   Health:   http://%s/healthz\n", addr)
	fmt.Printf("   Metrics:  http://%s/metrics\n", addr)
	fmt.Printf("   Storage:  %s (%s)\n", cfg.Database.Driver, cfg.Database.DSN)
	fmt.Printf("   Vectors:  %s\n", cfg.VectorStore.Provider)
	fmt.Printf("   Workers:  %d\n", cfg.Jobs.Workers)
	if authEnabled {
		fmt.Printf("   Auth:     enabled\n")
	} else {
		fmt.Printf("   Auth:     disabled (open server)\n")
	}
	if cfg.Ingestion.Watch.Enabled {
		fmt.Printf("   Watching: %s -> kb %s\n", cfg.Ingestion.Watch.Path, cfg.Ingestion.Watch.KnowledgeBase)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

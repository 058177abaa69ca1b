package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/extraction"
	"github.com/docbrain-ai/docbrain/pkg/ingest"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/llms"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/observability"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/query"
	"github.com/docbrain-ai/docbrain/pkg/reranking"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// runtime wires every pipeline component from configuration. All
// commands that touch data build one; the server and worker commands
// additionally start the queue.
type runtime struct {
	cfg      *config.Config
	obs      *observability.Manager
	store    *metastore.Store
	queue    *jobs.Queue
	embedder embedders.Embedder
	index    *vectorindex.Index
	llms     *llms.Service
	ingest   *ingest.Service
	router   *query.Router
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	store, err := metastore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	// The queue shares the store's pool; with sqlite a second pool
	// would only produce "database is locked" errors.
	queue, err := jobs.NewQueue(store.DB(), cfg.Database.Driver, cfg.Jobs)
	if err != nil {
		return nil, err
	}

	embedder, err := embedders.New(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	index, err := vectorindex.New(cfg.VectorStore, embedder.Dimension())
	if err != nil {
		return nil, err
	}

	llmService, err := llms.NewService(cfg.LLM, embedder)
	if err != nil {
		return nil, err
	}

	extractor, err := extraction.NewService(cfg.Extraction, llmService)
	if err != nil {
		return nil, err
	}

	chunker, err := chunking.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	registry, err := prompts.FromConfig(cfg.Prompts)
	if err != nil {
		return nil, err
	}

	reranker, err := reranking.New(cfg.Reranker, reranking.Deps{
		Completer: llmService,
		Embedder:  embedder,
	})
	if err != nil {
		return nil, err
	}

	ingestService, err := ingest.NewService(cfg.Ingestion, ingest.Deps{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Extractor: extractor,
		Chunker:   chunker,
		Completer: llmService,
		Prompts:   registry,
		Queue:     queue,
	})
	if err != nil {
		return nil, err
	}
	if err := ingestService.RegisterHandlers(queue); err != nil {
		return nil, err
	}

	router, err := query.NewRouter(cfg.Query, query.Deps{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Completer: llmService,
		Prompts:   registry,
		Reranker:  reranker,
		Queue:     queue,
	})
	if err != nil {
		return nil, err
	}
	if err := router.RegisterHandlers(queue); err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		obs:      obs,
		store:    store,
		queue:    queue,
		embedder: embedder,
		index:    index,
		llms:     llmService,
		ingest:   ingestService,
		router:   router,
	}, nil
}

// Close releases every component. Errors are logged, not returned;
// shutdown continues past a failing component.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rt.llms.Close(); err != nil {
		slog.Warn("LLM service close failed", "error", err)
	}
	if err := rt.index.Close(); err != nil {
		slog.Warn("Vector index close failed", "error", err)
	}
	if err := rt.embedder.Close(); err != nil {
		slog.Warn("Embedder close failed", "error", err)
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("Metadata store close failed", "error", err)
	}
	if err := rt.obs.Shutdown(ctx); err != nil {
		slog.Warn("Observability shutdown failed", "error", err)
	}
}

// drainQueue polls until no task is pending or running, for one-shot
// commands that want their enqueued work finished before exiting.
func (rt *runtime) drainQueue(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending, err := rt.queue.ListTasks(ctx, jobs.StatusPending, 1)
		if err != nil {
			return err
		}
		running, err := rt.queue.ListTasks(ctx, jobs.StatusRunning, 1)
		if err != nil {
			return err
		}
		if len(pending) == 0 && len(running) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

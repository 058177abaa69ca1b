package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docbrain-ai/docbrain/pkg/ingest"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

// IngestCmd loads local files into a knowledge base without going
// through the HTTP API. The default mode walks PATH once, queues every
// supported file and waits for the embedded workers to finish before
// exiting. With --watch it keeps running and mirrors directory changes
// into the knowledge base until interrupted.
type IngestCmd struct {
	Path  string `arg:"" type:"path" help:"File or directory to ingest."`
	KB    string `name:"kb" required:"" help:"Target knowledge base id."`
	Watch bool   `help:"Keep running and mirror directory changes."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
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

	if _, err := rt.store.GetKnowledgeBase(ctx, c.KB); err != nil {
		return fmt.Errorf("knowledge base %q: %w", c.KB, err)
	}

	if err := rt.queue.Start(ctx); err != nil {
		return err
	}
	defer stopQueue(rt)

	if c.Watch {
		return c.watch(ctx, rt)
	}
	return c.oneShot(ctx, rt)
}

// oneShot queues everything under the path, drains the queue and
// reports per-document outcomes.
func (c *IngestCmd) oneShot(ctx context.Context, rt *runtime) error {
	ids, skipped, err := c.queueFiles(ctx, rt)
	if err != nil {
		return err
	}
	if skipped > 0 {
		fmt.Printf("Skipped %d unsupported file(s)\n", skipped)
	}
	if len(ids) == 0 {
		fmt.Println("Nothing to ingest.")
		return nil
	}

	fmt.Printf("Queued %d file(s), processing...\n", len(ids))
	if err := rt.drainQueue(ctx); err != nil {
		return err
	}

	var failed int
	for _, id := range ids {
		doc, err := rt.store.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		switch doc.Status {
		case model.DocumentProcessed:
			fmt.Printf("  ok     %s (%d chunks)\n", doc.Title, doc.ChunkCount)
		case model.DocumentFailed:
			failed++
			fmt.Printf("  FAILED %s: %s\n", doc.Title, doc.ErrorMessage)
		default:
			failed++
			fmt.Printf("  %s %s\n", strings.ToLower(string(doc.Status)), doc.Title)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) did not complete", failed, len(ids))
	}
	fmt.Printf("Ingested %d document(s) into %s\n", len(ids), c.KB)
	return nil
}

// queueFiles creates a PENDING document for every supported file under
// the path. Directory walks use the path relative to the root as the
// document title so same-named files in different folders stay
// distinct.
func (c *IngestCmd) queueFiles(ctx context.Context, rt *runtime) ([]string, int, error) {
	info, err := os.Stat(c.Path)
	if err != nil {
		return nil, 0, err
	}

	var ids []string
	var skipped int

	queueOne := func(path, title string) error {
		if !model.DetectType("", title).Supported() {
			skipped++
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if len(content) == 0 {
			skipped++
			return nil
		}
		doc := &model.Document{
			KnowledgeBaseID: c.KB,
			Title:           title,
			ContentType:     ingest.ContentTypeForFile(title),
			Content:         content,
		}
		if err := rt.ingest.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to queue %s: %w", title, err)
		}
		ids = append(ids, doc.ID)
		return nil
	}

	if !info.IsDir() {
		if err := queueOne(c.Path, filepath.Base(c.Path)); err != nil {
			return nil, 0, err
		}
		return ids, skipped, nil
	}

	err = filepath.WalkDir(c.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != c.Path {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		title, err := filepath.Rel(c.Path, path)
		if err != nil {
			title = d.Name()
		}
		return queueOne(path, filepath.ToSlash(title))
	})
	if err != nil {
		return nil, 0, err
	}
	return ids, skipped, nil
}

// watch mirrors the directory into the knowledge base until the
// context is canceled.
func (c *IngestCmd) watch(ctx context.Context, rt *runtime) error {
	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("--watch requires a directory, %s is a file", c.Path)
	}

	watchCfg := rt.cfg.Ingestion.Watch
	watchCfg.Enabled = true
	watchCfg.Path = c.Path
	watchCfg.KnowledgeBase = c.KB

	source, err := ingest.NewSource(watchCfg, rt.ingest)
	if err != nil {
		return err
	}
	if err := source.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = source.Stop() }()

	fmt.Printf("Watching %s  ->  knowledge base %s (Ctrl+C to stop)\n", c.Path, c.KB)
	<-ctx.Done()
	return nil
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// WATCH-FOLDER SOURCE
// ============================================================================

// Source ingests local files into a knowledge base by watching a directory.
// Created or rewritten files become documents named after their base name;
// a rewrite replaces the previous document of the same name enqueuing the
// vector cleanup for it, and a removal deletes the document.
type Source struct {
	cfg     config.WatchConfig
	service *Service
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu       sync.Mutex
	watching bool
}

// NewSource creates a watch-folder source bound to an ingestion service.
func NewSource(cfg config.WatchConfig, service *Service) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch source requires a path")
	}
	if cfg.KnowledgeBase == "" {
		return nil, fmt.Errorf("watch source requires a knowledge base id")
	}
	if service == nil {
		return nil, fmt.Errorf("watch source requires an ingest service")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Source{cfg: cfg, service: service, watcher: watcher}, nil
}

// Start begins watching. It returns once the watcher is registered; event
// handling runs on a background goroutine until Stop or context cancel.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return nil
	}

	if err := s.addRecursive(s.cfg.Path); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.watching = true
	go s.watchEvents(ctx)

	slog.Info("Watching folder for documents",
		"path", s.cfg.Path,
		"knowledge_base_id", s.cfg.KnowledgeBase,
		"patterns", s.cfg.Patterns,
	)
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watching {
		return nil
	}
	s.cancel()
	s.watching = false
	return s.watcher.Close()
}

// addRecursive registers the base path and every subdirectory.
func (s *Source) addRecursive(base string) error {
	if err := s.watcher.Add(base); err != nil {
		return fmt.Errorf("failed to watch %s: %w", base, err)
	}
	return filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != base {
			if err := s.watcher.Add(path); err != nil {
				slog.Warn("Failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

// watchEvents coalesces rapid events per path before acting on them. Editors
// commonly emit several writes for one save; only the last one matters.
func (s *Source) watchEvents(ctx context.Context) {
	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex
	var debounce *time.Timer

	flush := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Event)
		pendingMu.Unlock()

		for _, event := range events {
			s.handleEvent(ctx, event)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = event
			pendingMu.Unlock()

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(s.cfg.Debounce, flush)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "path", s.cfg.Path, "error", err)
		}
	}
}

func (s *Source) handleEvent(ctx context.Context, event fsnotify.Event) {
	path := event.Name
	name := filepath.Base(path)
	if !s.matches(name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			// New subdirectories join the watch without producing a document.
			if err := s.watcher.Add(path); err != nil {
				slog.Warn("Failed to watch new directory", "path", path, "error", err)
			}
			return
		}
		s.upsertFile(ctx, path, name)

	case event.Op&fsnotify.Write == fsnotify.Write:
		s.upsertFile(ctx, path, name)

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		s.removeFile(ctx, name)
	}
}

// upsertFile reads a file and (re)ingests it. An existing document with the
// same title is deleted first so its vectors get cleaned up.
func (s *Source) upsertFile(ctx context.Context, path, name string) {
	docType := model.DetectType("", name)
	if !docType.Supported() {
		slog.Debug("Skipping unsupported file", "path", path)
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read watched file", "path", path, "error", err)
		return
	}
	if len(content) == 0 {
		return
	}

	if id, err := s.findByTitle(ctx, name); err != nil {
		slog.Warn("Failed to look up document", "title", name, "error", err)
		return
	} else if id != "" {
		if err := s.service.DeleteDocument(ctx, id); err != nil {
			slog.Warn("Failed to replace document", "title", name, "error", err)
			return
		}
	}

	doc := &model.Document{
		KnowledgeBaseID: s.cfg.KnowledgeBase,
		Title:           name,
		ContentType:     ContentTypeForFile(name),
		Content:         content,
	}
	if err := s.service.CreateDocument(ctx, doc); err != nil {
		slog.Warn("Failed to ingest watched file", "path", path, "error", err)
		return
	}
	slog.Info("Queued watched file for ingestion", "title", name, "document_id", doc.ID)
}

func (s *Source) removeFile(ctx context.Context, name string) {
	id, err := s.findByTitle(ctx, name)
	if err != nil {
		slog.Warn("Failed to look up document", "title", name, "error", err)
		return
	}
	if id == "" {
		return
	}
	if err := s.service.DeleteDocument(ctx, id); err != nil {
		slog.Warn("Failed to delete document for removed file", "title", name, "error", err)
		return
	}
	slog.Info("Deleted document for removed file", "title", name, "document_id", id)
}

// findByTitle returns the newest document id with the given title, or "".
func (s *Source) findByTitle(ctx context.Context, title string) (string, error) {
	docs, err := s.service.store.ListDocuments(ctx, s.cfg.KnowledgeBase, metastore.ListDocumentsOptions{})
	if err != nil {
		return "", err
	}
	for _, doc := range docs {
		if doc.Title == title {
			return doc.ID, nil
		}
	}
	return "", nil
}

func (s *Source) matches(name string) bool {
	if len(s.cfg.Patterns) == 0 {
		return true
	}
	for _, pattern := range s.cfg.Patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ContentTypeForFile maps a filename to the MIME type a document of
// that name should carry. Image extensions keep their own MIME so the
// vision extractor sends the right media type; everything else gets
// the canonical MIME for its detected type.
func ContentTypeForFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return model.MIMEJPEG
	case ".webp":
		return model.MIMEWebP
	case ".gif":
		return "image/gif"
	default:
		return model.DetectType("", name).MIME()
	}
}

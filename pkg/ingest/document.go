package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/extraction"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/observability"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// DOCUMENT PIPELINE
// ============================================================================

// handleIngestDocument runs the full document pipeline: claim the row,
// extract, chunk, embed, upsert, summarize, mark processed.
//
// Failure policy: a missing row or a failed extraction is terminal; the
// document is marked FAILED and the task does not retry. Embedding and
// vector errors are retryable; the row stays PROCESSING between attempts
// and is re-claimed through the attempt counter. Summarization never
// fails the pipeline.
func (s *Service) handleIngestDocument(ctx context.Context, task *jobs.Task) error {
	var args DocumentArgs
	if err := jobs.DecodeArgs(task, &args); err != nil {
		return err
	}
	log := slog.With("task", task.Name, "document_id", args.DocumentID)

	doc, err := s.store.GetDocument(ctx, args.DocumentID)
	if errors.Is(err, metastore.ErrNotFound) {
		return fmt.Errorf("document %s not found", args.DocumentID)
	}
	if err != nil {
		return jobs.Retryable(err)
	}

	err = s.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing)
	switch {
	case err == nil:
	case errors.Is(err, metastore.ErrPreconditionFailed):
		if task.Attempts > 1 && doc.Status == model.DocumentProcessing {
			// This task claimed the row on an earlier attempt.
			log.Info("Resuming document processing", "attempt", task.Attempts)
		} else {
			log.Info("Document not pending, skipping", "status", doc.Status)
			return nil
		}
	default:
		return jobs.Retryable(err)
	}

	start := time.Now()
	if err := s.processDocument(ctx, log, doc); err != nil {
		if jobs.IsRetryable(err) && task.Attempts < task.MaxAttempts {
			return err
		}
		docType := model.DetectType(doc.ContentType, doc.Title)
		observability.GetGlobalMetrics().RecordIngestion(ctx, string(docType), time.Since(start), 0, err)
		s.failDocument(log, doc.ID, err)
		return err
	}
	return nil
}

func (s *Service) processDocument(ctx context.Context, log *slog.Logger, doc *model.Document) error {
	start := time.Now()

	content, err := s.resolveContent(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to load document content: %w", err)
	}

	result, err := s.extractor.Extract(ctx, content, extraction.Hints{
		DocumentID:  doc.ID,
		Filename:    doc.Title,
		ContentType: doc.ContentType,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	title := result.Title
	if title == "" {
		title = doc.Title
	}
	docType := model.DetectType(doc.ContentType, doc.Title)

	chunksByClass := s.chunker.ChunkDocument(result.Text, docType)
	total := 0
	for _, chunks := range chunksByClass {
		total += len(chunks)
	}
	if total == 0 {
		return fmt.Errorf("document produced no text content")
	}

	// Size classes are independent of each other; embed and upsert them
	// in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for class, chunks := range chunksByClass {
		g.Go(func() error {
			return s.indexChunks(gctx, doc, title, docType, class, chunks)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summary := s.summarizeDocument(ctx, log, title, result.Text)
	if err := s.indexSummary(ctx, doc, title, docType, summary); err != nil {
		return err
	}

	if err := s.store.MarkDocumentProcessed(ctx, doc.ID, total, summary); err != nil {
		if errors.Is(err, metastore.ErrPreconditionFailed) {
			return err
		}
		return jobs.Retryable(err)
	}
	if err := s.store.ClearDocumentContent(ctx, doc.ID); err != nil {
		log.Warn("Failed to clear stored document content", "error", err)
	}

	observability.GetGlobalMetrics().RecordIngestion(ctx, string(docType), time.Since(start), total, nil)
	log.Info("Document ingested",
		"title", title,
		"type", docType,
		"chunks", total,
		"size_classes", len(chunksByClass),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// indexChunks embeds one size class and upserts its records into the
// knowledge base namespace.
func (s *Service) indexChunks(ctx context.Context, doc *model.Document, title string, docType model.DocumentType, class chunking.SizeClass, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s chunks: %w", class, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(chunks))
	}

	records := make([]vectorindex.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorindex.Record{
			ID:     model.ChunkRecordID(doc.ID, chunk.Index, string(class)),
			Vector: vectors[i],
			Metadata: map[string]string{
				model.MetaDocumentID:      doc.ID,
				model.MetaKnowledgeBaseID: doc.KnowledgeBaseID,
				model.MetaChunkIndex:      strconv.Itoa(chunk.Index),
				model.MetaChunkSize:       string(class),
				model.MetaDocTitle:        title,
				model.MetaDocType:         string(docType),
				model.MetaSection:         chunk.NearestHeader,
				model.MetaPath:            vectorindex.JoinList(chunk.SectionPath),
				model.MetaContent:         chunk.Content,
			},
		}
	}

	namespace := model.ChunkNamespace(doc.KnowledgeBaseID)
	for start := 0; start < len(records); start += s.cfg.UpsertBatchSize {
		end := start + s.cfg.UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.index.Upsert(ctx, namespace, records[start:end]); err != nil {
			return jobs.Retryable(fmt.Errorf("failed to upsert %s chunks: %w", class, err))
		}
	}
	return nil
}

// indexSummary writes the per-document summary record.
func (s *Service) indexSummary(ctx context.Context, doc *model.Document, title string, docType model.DocumentType, summary string) error {
	vector, err := s.embedder.Embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("failed to embed summary: %w", err)
	}

	record := vectorindex.Record{
		ID:     doc.ID,
		Vector: vector,
		Metadata: map[string]string{
			model.MetaDocumentID:      doc.ID,
			model.MetaKnowledgeBaseID: doc.KnowledgeBaseID,
			model.MetaDocTitle:        title,
			model.MetaDocType:         string(docType),
			model.MetaSummary:         summary,
		},
	}
	if err := s.index.Upsert(ctx, model.SummaryNamespace, []vectorindex.Record{record}); err != nil {
		return jobs.Retryable(fmt.Errorf("failed to upsert summary: %w", err))
	}
	return nil
}

// failDocument persists terminal FAILED state. It runs on a fresh
// context so a cancelled task context cannot block the final write.
func (s *Service) failDocument(log *slog.Logger, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.MarkDocumentFailed(ctx, id, cause.Error()); err != nil {
		log.Error("Failed to record document failure", "error", err)
	}
}

// readStoredContent resolves a storage path to raw bytes.
func readStoredContent(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored content: %w", err)
	}
	return data, nil
}

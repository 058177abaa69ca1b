package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// VECTOR CLEANUP
// ============================================================================

// handleDeleteDocumentVectors removes every chunk vector and the summary
// vector for a document. The metadata row is already gone by the time this
// runs, so the task carries the knowledge base id itself. Deleting vectors
// that no longer exist is a no-op, which keeps the handler idempotent.
func (s *Service) handleDeleteDocumentVectors(ctx context.Context, task *jobs.Task) error {
	var args DeleteDocumentArgs
	if err := jobs.DecodeArgs(task, &args); err != nil {
		return err
	}
	log := slog.With("task", task.Name, "document_id", args.DocumentID)

	chunkSelector := vectorindex.Selector{
		Filter: vectorindex.Filter{model.MetaDocumentID: args.DocumentID},
	}
	if err := s.index.Delete(ctx, model.ChunkNamespace(args.KnowledgeBaseID), chunkSelector); err != nil {
		return jobs.Retryable(fmt.Errorf("failed to delete chunk vectors: %w", err))
	}

	summarySelector := vectorindex.Selector{IDs: []string{args.DocumentID}}
	if err := s.index.Delete(ctx, model.SummaryNamespace, summarySelector); err != nil {
		return jobs.Retryable(fmt.Errorf("failed to delete summary vector: %w", err))
	}

	log.Info("Document vectors deleted", "knowledge_base_id", args.KnowledgeBaseID)
	return nil
}

// handleDeleteQuestionVector removes the single curated question vector.
func (s *Service) handleDeleteQuestionVector(ctx context.Context, task *jobs.Task) error {
	var args DeleteQuestionArgs
	if err := jobs.DecodeArgs(task, &args); err != nil {
		return err
	}

	selector := vectorindex.Selector{IDs: []string{model.QuestionRecordID(args.QuestionID)}}
	if err := s.index.Delete(ctx, model.QuestionNamespace(args.KnowledgeBaseID), selector); err != nil {
		return jobs.Retryable(fmt.Errorf("failed to delete question vector: %w", err))
	}

	slog.Info("Question vector deleted",
		"task", task.Name,
		"question_id", args.QuestionID,
		"knowledge_base_id", args.KnowledgeBaseID,
	)
	return nil
}

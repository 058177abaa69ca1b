package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// QUESTION PIPELINE
// ============================================================================

// handleIngestQuestion embeds a curated question/answer pair and writes it
// into the per-knowledge-base question namespace. Edits re-enqueue the same
// task, so the upsert overwrites the previous vector in place.
func (s *Service) handleIngestQuestion(ctx context.Context, task *jobs.Task) error {
	var args QuestionArgs
	if err := jobs.DecodeArgs(task, &args); err != nil {
		return err
	}
	log := slog.With("task", task.Name, "question_id", args.QuestionID)

	question, err := s.store.GetQuestion(ctx, args.QuestionID)
	if errors.Is(err, metastore.ErrNotFound) {
		return fmt.Errorf("question %s not found", args.QuestionID)
	}
	if err != nil {
		return jobs.Retryable(err)
	}

	err = s.store.UpdateQuestionStatus(ctx, question.ID, model.QuestionPending, model.QuestionIngesting)
	switch {
	case err == nil:
	case errors.Is(err, metastore.ErrPreconditionFailed):
		if task.Attempts > 1 && question.Status == model.QuestionIngesting {
			log.Info("Resuming question ingestion", "attempt", task.Attempts)
		} else {
			log.Info("Question not pending, skipping", "status", question.Status)
			return nil
		}
	default:
		return jobs.Retryable(err)
	}

	if err := s.processQuestion(ctx, log, question); err != nil {
		if jobs.IsRetryable(err) && task.Attempts < task.MaxAttempts {
			return err
		}
		s.failQuestion(log, question.ID, err)
		return err
	}
	return nil
}

func (s *Service) processQuestion(ctx context.Context, log *slog.Logger, question *model.Question) error {
	vector, err := s.embedder.Embed(ctx, model.QuestionText(question.Question, question.Answer))
	if err != nil {
		return fmt.Errorf("failed to embed question: %w", err)
	}

	record := vectorindex.Record{
		ID:     model.QuestionRecordID(question.ID),
		Vector: vector,
		Metadata: map[string]string{
			model.MetaQuestionID:      question.ID,
			model.MetaKnowledgeBaseID: question.KnowledgeBaseID,
			model.MetaQuestion:        question.Question,
			model.MetaAnswer:          question.Answer,
			model.MetaAnswerType:      string(question.AnswerKind),
			model.MetaUserID:          question.UserID,
		},
	}
	namespace := model.QuestionNamespace(question.KnowledgeBaseID)
	if err := s.index.Upsert(ctx, namespace, []vectorindex.Record{record}); err != nil {
		return jobs.Retryable(fmt.Errorf("failed to upsert question: %w", err))
	}

	if err := s.store.MarkQuestionCompleted(ctx, question.ID); err != nil {
		if errors.Is(err, metastore.ErrPreconditionFailed) {
			return err
		}
		return jobs.Retryable(err)
	}
	log.Info("Question ingested", "kind", question.AnswerKind)
	return nil
}

func (s *Service) failQuestion(log *slog.Logger, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.MarkQuestionFailed(ctx, id, cause.Error()); err != nil {
		log.Error("Failed to record question failure", "error", err)
	}
}

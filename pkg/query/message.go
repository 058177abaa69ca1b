package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// CONVERSATION FLOW
// ============================================================================

// MessageArgs are the arguments of answer_message. The query rides along
// so the worker does not have to re-read the user message row.
type MessageArgs struct {
	MessageID       string `json:"message_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Query           string `json:"query"`
}

// RegisterHandlers binds the answering task to the queue.
func (r *Router) RegisterHandlers(q *jobs.Queue) error {
	return q.Register(jobs.TaskAnswerMessage, r.handleAnswerMessage)
}

// PostMessage records a user message in a conversation and enqueues the
// answering task against a fresh assistant placeholder. The placeholder
// is returned so callers can poll it; its content and sources appear
// once the task completes.
func (r *Router) PostMessage(ctx context.Context, conversationID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is empty")
	}
	if r.queue == nil {
		return nil, fmt.Errorf("no job queue configured")
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	user := &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Status:         model.MessageProcessed,
		Content:        content,
	}
	if err := r.store.CreateMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to record user message: %w", err)
	}

	assistant := &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Status:         model.MessageReceived,
	}
	if err := r.store.CreateMessage(ctx, assistant); err != nil {
		return nil, fmt.Errorf("failed to create assistant message: %w", err)
	}

	_, err = r.queue.Enqueue(ctx, jobs.TaskAnswerMessage, MessageArgs{
		MessageID:       assistant.ID,
		KnowledgeBaseID: conv.KnowledgeBaseID,
		Query:           content,
	})
	if err != nil {
		r.failMessage(slog.With("message_id", assistant.ID), assistant.ID, err)
		return nil, fmt.Errorf("failed to enqueue answering task: %w", err)
	}

	slog.Info("Message queued for answering",
		"conversation_id", conv.ID,
		"message_id", assistant.ID,
	)
	return assistant, nil
}

// handleAnswerMessage fills one assistant placeholder. Answer absorbs
// pipeline failures into a readable reply, so the only errors left here
// are around loading and storing the message itself.
func (r *Router) handleAnswerMessage(ctx context.Context, task *jobs.Task) error {
	var args MessageArgs
	if err := jobs.DecodeArgs(task, &args); err != nil {
		return fmt.Errorf("invalid task arguments: %w", err)
	}
	log := slog.With("task", task.Name, "message_id", args.MessageID)

	msg, err := r.store.GetMessage(ctx, args.MessageID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return fmt.Errorf("message %s not found", args.MessageID)
		}
		return jobs.Retryable(fmt.Errorf("failed to load message: %w", err))
	}

	switch err := r.store.UpdateMessageStatus(ctx, msg.ID, model.MessageReceived, model.MessageProcessing); {
	case err == nil:
	case errors.Is(err, metastore.ErrPreconditionFailed):
		if task.Attempts > 1 && msg.Status == model.MessageProcessing {
			log.Info("Resuming message answering")
		} else {
			log.Info("Message not awaiting an answer, skipping", "status", msg.Status)
			return nil
		}
	default:
		return jobs.Retryable(fmt.Errorf("failed to claim message: %w", err))
	}

	result := r.Answer(ctx, args.Query, args.KnowledgeBaseID, Options{})

	metadata := map[string]any{"routing": result.RoutingInfo}
	if result.Service == model.ServiceUnknown {
		metadata["error"] = result.RoutingInfo.Reasoning
	}

	if err := r.store.CompleteMessage(ctx, msg.ID, result.Answer, result.Sources, metadata); err != nil {
		if errors.Is(err, metastore.ErrPreconditionFailed) {
			return fmt.Errorf("message %s is no longer processing: %w", msg.ID, err)
		}
		err = jobs.Retryable(fmt.Errorf("failed to store answer: %w", err))
		if task.Attempts >= task.MaxAttempts {
			r.failMessage(log, msg.ID, err)
		}
		return err
	}

	log.Info("Message answered", "service", result.Service, "sources", len(result.Sources))
	return nil
}

// failMessage is a best-effort terminal write on a fresh context, for
// when the answer could not be stored at all.
func (r *Router) failMessage(log *slog.Logger, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.FailMessage(ctx, id, cause.Error()); err != nil {
		log.Error("Failed to mark message failed", "error", err)
	}
}

// Package ingest turns uploaded documents and curated questions into
// searchable vector records, and tears them down again on deletion.
//
// All work runs through the job queue. Handlers are idempotent: entity
// status transitions are precondition-guarded and record ids are
// deterministic, so at-least-once delivery re-runs safely.
package ingest

import (
	"context"
	"fmt"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/extraction"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// SERVICE
// ============================================================================

// RouterCompleter is the slice of the LLM layer the pipeline needs: one
// cheap-model text completion, used for document summaries.
type RouterCompleter interface {
	RouterCompleteText(ctx context.Context, system, user string) (string, error)
}

// Service owns the ingestion pipelines and their queue bindings.
type Service struct {
	cfg       config.IngestionConfig
	store     *metastore.Store
	index     *vectorindex.Index
	embedder  embedders.Embedder
	extractor *extraction.Service
	chunker   *chunking.Chunker
	completer RouterCompleter
	registry  *prompts.Registry
	queue     *jobs.Queue
}

// Deps carries the collaborators a Service needs. All fields are
// required except Completer, without which summaries degrade to a
// placeholder.
type Deps struct {
	Store     *metastore.Store
	Index     *vectorindex.Index
	Embedder  embedders.Embedder
	Extractor *extraction.Service
	Chunker   *chunking.Chunker
	Completer RouterCompleter
	Prompts   *prompts.Registry
	Queue     *jobs.Queue
}

// NewService validates the configuration and builds the service. Call
// RegisterHandlers before starting the queue.
func NewService(cfg config.IngestionConfig, deps Deps) (*Service, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingestion config: %w", err)
	}
	if deps.Store == nil || deps.Index == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("ingest service requires a store, an index, and an embedder")
	}
	if deps.Extractor == nil || deps.Chunker == nil || deps.Queue == nil {
		return nil, fmt.Errorf("ingest service requires an extractor, a chunker, and a queue")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.New()
	}

	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		index:     deps.Index,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		completer: deps.Completer,
		registry:  deps.Prompts,
		queue:     deps.Queue,
	}, nil
}

// RegisterHandlers binds the four ingestion tasks to the queue.
func (s *Service) RegisterHandlers(q *jobs.Queue) error {
	for name, handler := range map[string]jobs.Handler{
		jobs.TaskIngestDocument:       s.handleIngestDocument,
		jobs.TaskIngestQuestion:       s.handleIngestQuestion,
		jobs.TaskDeleteDocumentVector: s.handleDeleteDocumentVectors,
		jobs.TaskDeleteQuestionVector: s.handleDeleteQuestionVector,
	} {
		if err := q.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// TASK ARGUMENTS
// ============================================================================

// DocumentArgs are the arguments of ingest_document.
type DocumentArgs struct {
	DocumentID string `json:"document_id"`
}

// QuestionArgs are the arguments of ingest_question.
type QuestionArgs struct {
	QuestionID string `json:"question_id"`
}

// DeleteDocumentArgs are the arguments of delete_document_vectors. The
// knowledge base id rides along because the document row is usually gone
// by the time the task runs.
type DeleteDocumentArgs struct {
	DocumentID      string `json:"document_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
}

// DeleteQuestionArgs are the arguments of delete_question_vector.
type DeleteQuestionArgs struct {
	QuestionID      string `json:"question_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
}

// ============================================================================
// ENTITY LIFECYCLE
// ============================================================================

// CreateDocument inserts a PENDING document row and enqueues its
// ingestion.
func (s *Service) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = model.NewID()
	}
	doc.Status = model.DocumentPending

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, jobs.TaskIngestDocument, DocumentArgs{DocumentID: doc.ID}); err != nil {
		return fmt.Errorf("failed to enqueue document ingestion: %w", err)
	}
	return nil
}

// DeleteDocument removes the document row and enqueues vector cleanup.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, jobs.TaskDeleteDocumentVector, DeleteDocumentArgs{
		DocumentID:      doc.ID,
		KnowledgeBaseID: doc.KnowledgeBaseID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue vector deletion: %w", err)
	}
	return nil
}

// CreateQuestion inserts a PENDING question row and enqueues its
// ingestion.
func (s *Service) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = model.NewID()
	}
	if q.AnswerKind == "" {
		q.AnswerKind = model.AnswerDirect
	}
	q.Status = model.QuestionPending

	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, jobs.TaskIngestQuestion, QuestionArgs{QuestionID: q.ID}); err != nil {
		return fmt.Errorf("failed to enqueue question ingestion: %w", err)
	}
	return nil
}

// UpdateQuestion rewrites a curated question's content, resets it to
// PENDING, and re-enqueues ingestion so the vector record is replaced.
func (s *Service) UpdateQuestion(ctx context.Context, id, question, answer string, kind model.AnswerKind) error {
	if err := s.store.UpdateQuestionContent(ctx, id, question, answer, kind); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, jobs.TaskIngestQuestion, QuestionArgs{QuestionID: id}); err != nil {
		return fmt.Errorf("failed to enqueue question ingestion: %w", err)
	}
	return nil
}

// DeleteQuestion removes the question row and enqueues vector cleanup.
func (s *Service) DeleteQuestion(ctx context.Context, id string) error {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, jobs.TaskDeleteQuestionVector, DeleteQuestionArgs{
		QuestionID:      q.ID,
		KnowledgeBaseID: q.KnowledgeBaseID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue vector deletion: %w", err)
	}
	return nil
}

// DeleteKnowledgeBase cascades the deletion of a knowledge base: vector
// cleanup is enqueued per document and per question, then the rows go in
// one transaction (messages, conversations, questions, documents, then
// the knowledge base itself). A failure between the enqueues and the row
// deletion leaves only orphaned vector records, which the cleanup tasks
// remove anyway.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, id string) error {
	docIDs, err := s.store.ListDocumentIDs(ctx, id)
	if err != nil {
		return err
	}
	questionIDs, err := s.store.ListQuestionIDs(ctx, id)
	if err != nil {
		return err
	}

	for _, docID := range docIDs {
		_, err := s.queue.Enqueue(ctx, jobs.TaskDeleteDocumentVector, DeleteDocumentArgs{
			DocumentID:      docID,
			KnowledgeBaseID: id,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue vector deletion: %w", err)
		}
	}
	for _, questionID := range questionIDs {
		_, err := s.queue.Enqueue(ctx, jobs.TaskDeleteQuestionVector, DeleteQuestionArgs{
			QuestionID:      questionID,
			KnowledgeBaseID: id,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue vector deletion: %w", err)
		}
	}

	return s.store.DeleteKnowledgeBase(ctx, id)
}

// resolveContent returns the raw document bytes, either inline from the
// row or read from the storage path.
func (s *Service) resolveContent(ctx context.Context, doc *model.Document) ([]byte, error) {
	content, err := s.store.GetDocumentContent(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		return content, nil
	}
	if doc.StoragePath != "" {
		return readStoredContent(doc.StoragePath)
	}
	return nil, fmt.Errorf("document %s has no content", doc.ID)
}

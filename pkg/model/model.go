// Package model defines the persistent entities of DocBrain and the
// value objects shared across pipelines: documents, curated questions,
// conversations, assistant messages, and the provenance attached to
// answers.
//
// Status enums are stored as their string names in the metadata store.
// Transitions are validated with CanTransition; pipelines never write a
// status the state machine forbids.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for a new entity row.
func NewID() string {
	return uuid.NewString()
}

// ============================================================================
// DOCUMENT
// ============================================================================

// DocumentStatus tracks a document through the ingestion state machine.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentProcessed  DocumentStatus = "PROCESSED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// CanTransition reports whether moving to next is a legal transition.
// The machine is PENDING → PROCESSING → PROCESSED|FAILED; PENDING may
// also fail directly (missing row content, unsupported type).
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	switch s {
	case DocumentPending:
		return next == DocumentProcessing || next == DocumentFailed
	case DocumentProcessing:
		return next == DocumentProcessed || next == DocumentFailed
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentProcessed || s == DocumentFailed
}

// Document is one uploaded file belonging to a knowledge base.
//
// Raw bytes are carried inline in Content for small uploads or resolved
// from StoragePath; exactly one of the two is set. Only PROCESSED
// documents are visible to retrieval.
type Document struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id"`
	Title           string         `json:"title"`
	ContentType     string         `json:"content_type"`
	Content         []byte         `json:"-"`
	StoragePath     string         `json:"storage_path,omitempty"`
	Status          DocumentStatus `json:"status"`
	ChunkCount      int            `json:"processed_chunk_count"`
	Summary         string         `json:"summary,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ============================================================================
// CURATED QUESTION
// ============================================================================

// QuestionStatus tracks a curated Q&A pair through ingestion.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "PENDING"
	QuestionIngesting QuestionStatus = "INGESTING"
	QuestionCompleted QuestionStatus = "COMPLETED"
	QuestionFailed    QuestionStatus = "FAILED"
)

// CanTransition reports whether moving to next is a legal transition.
// Content edits reset COMPLETED|FAILED back to PENDING for re-ingestion.
func (s QuestionStatus) CanTransition(next QuestionStatus) bool {
	switch s {
	case QuestionPending:
		return next == QuestionIngesting || next == QuestionFailed
	case QuestionIngesting:
		return next == QuestionCompleted || next == QuestionFailed
	case QuestionCompleted, QuestionFailed:
		return next == QuestionPending
	default:
		return false
	}
}

// AnswerKind distinguishes directly-stored answers from SQL templates
// executed by the TAG path.
type AnswerKind string

const (
	AnswerDirect AnswerKind = "DIRECT"
	AnswerSQL    AnswerKind = "SQL_QUERY"
)

// Question is an author-provided Q&A pair, indexed separately from
// document chunks and consulted first by the router.
type Question struct {
	ID              string         `json:"id"`
	KnowledgeBaseID string         `json:"knowledge_base_id"`
	UserID          string         `json:"user_id,omitempty"`
	Question        string         `json:"question"`
	Answer          string         `json:"answer"`
	AnswerKind      AnswerKind     `json:"answer_kind"`
	Status          QuestionStatus `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ============================================================================
// KNOWLEDGE BASE / CONVERSATION / MESSAGE
// ============================================================================

// KnowledgeBase is a named collection of documents and curated Q&A.
// Its id doubles as the vector namespace for chunk and question records.
type KnowledgeBase struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation groups messages against one knowledge base.
type Conversation struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	UserID          string    `json:"user_id,omitempty"`
	Title           string    `json:"title,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MessageRole identifies the sender of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus tracks an assistant placeholder from creation to its
// final answer. The retrieval worker is the sole writer after RECEIVED.
type MessageStatus string

const (
	MessageReceived   MessageStatus = "RECEIVED"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageProcessed  MessageStatus = "PROCESSED"
	MessageFailed     MessageStatus = "FAILED"
)

// CanTransition reports whether moving to next is a legal transition.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch s {
	case MessageReceived:
		return next == MessageProcessing || next == MessageFailed
	case MessageProcessing:
		return next == MessageProcessed || next == MessageFailed
	default:
		return false
	}
}

// Message is a conversation turn. Assistant rows are pre-created empty
// (status RECEIVED) and filled in by the answer_message task; the core
// mutates only Status, Content, Sources, and Metadata.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Status         MessageStatus  `json:"status"`
	Content        string         `json:"content"`
	Sources        []Source       `json:"sources,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

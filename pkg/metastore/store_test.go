package metastore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, config.DriverSQLite)
	require.NoError(t, err)
	return store
}

func createTestKB(t *testing.T, s *Store) *model.KnowledgeBase {
	t.Helper()
	kb := &model.KnowledgeBase{Name: "test-kb"}
	require.NoError(t, s.CreateKnowledgeBase(context.Background(), kb))
	return kb
}

func TestRebind(t *testing.T) {
	sqlite := &Store{dialect: config.DriverSQLite}
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ?", sqlite.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	pg := &Store{dialect: config.DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "no placeholders", pg.rebind("no placeholders"))
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}

// ============================================================================
// KNOWLEDGE BASES
// ============================================================================

func TestKnowledgeBaseCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	kb := &model.KnowledgeBase{Name: "handbook", OwnerID: "user-1"}
	require.NoError(t, s.CreateKnowledgeBase(ctx, kb))
	require.NotEmpty(t, kb.ID)

	got, err := s.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "handbook", got.Name)
	assert.Equal(t, "user-1", got.OwnerID)

	list, err := s.ListKnowledgeBases(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteKnowledgeBase(ctx, kb.ID))
	_, err = s.GetKnowledgeBase(ctx, kb.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteKnowledgeBase(ctx, kb.ID), ErrNotFound)
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	doc := &model.Document{KnowledgeBaseID: kb.ID, Title: "doc.pdf"}
	require.NoError(t, s.CreateDocument(ctx, doc))

	q := &model.Question{KnowledgeBaseID: kb.ID, Question: "What?", Answer: "That."}
	require.NoError(t, s.CreateQuestion(ctx, q))

	conv := &model.Conversation{KnowledgeBaseID: kb.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))
	msg := &model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: "hi"}
	require.NoError(t, s.CreateMessage(ctx, msg))

	require.NoError(t, s.DeleteKnowledgeBase(ctx, kb.ID))

	_, err := s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// DOCUMENTS
// ============================================================================

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	doc := &model.Document{
		KnowledgeBaseID: kb.ID,
		Title:           "guide.md",
		ContentType:     "text/markdown",
		Content:         []byte("# Guide\n\nBody."),
	}
	require.NoError(t, s.CreateDocument(ctx, doc))
	assert.Equal(t, model.DocumentPending, doc.Status)

	content, err := s.GetDocumentContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("# Guide\n\nBody."), content)

	// Worker claims the document.
	require.NoError(t, s.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))

	// A second claim must lose the race.
	err = s.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, s.MarkDocumentProcessed(ctx, doc.ID, 42, "A guide about things."))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessed, got.Status)
	assert.Equal(t, 42, got.ChunkCount)
	assert.Equal(t, "A guide about things.", got.Summary)

	// Terminal rows cannot fail.
	err = s.MarkDocumentFailed(ctx, doc.ID, "late failure")
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestDocumentIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	doc := &model.Document{KnowledgeBaseID: kb.ID, Title: "a"}
	require.NoError(t, s.CreateDocument(ctx, doc))

	// PENDING -> PROCESSED skips PROCESSING; rejected before touching SQL.
	err := s.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessed)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateDocumentStatus(ctx, "missing", model.DocumentPending, model.DocumentProcessing)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteDocument(ctx, "missing"), ErrNotFound)
}

func TestListDocumentsFiltering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	for i := 0; i < 3; i++ {
		doc := &model.Document{KnowledgeBaseID: kb.ID, Title: "doc"}
		require.NoError(t, s.CreateDocument(ctx, doc))
		if i == 0 {
			require.NoError(t, s.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))
			require.NoError(t, s.MarkDocumentProcessed(ctx, doc.ID, 5, "summary"))
		}
	}

	all, err := s.ListDocuments(ctx, kb.ID, ListDocumentsOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	processed, err := s.ListDocuments(ctx, kb.ID, ListDocumentsOptions{Status: model.DocumentProcessed})
	require.NoError(t, err)
	assert.Len(t, processed, 1)

	limited, err := s.ListDocuments(ctx, kb.ID, ListDocumentsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListDocumentSummaries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	// One processed with summary, one processed without, one pending.
	withSummary := &model.Document{KnowledgeBaseID: kb.ID, Title: "a"}
	require.NoError(t, s.CreateDocument(ctx, withSummary))
	require.NoError(t, s.UpdateDocumentStatus(ctx, withSummary.ID, model.DocumentPending, model.DocumentProcessing))
	require.NoError(t, s.MarkDocumentProcessed(ctx, withSummary.ID, 3, "covers widgets"))

	noSummary := &model.Document{KnowledgeBaseID: kb.ID, Title: "b"}
	require.NoError(t, s.CreateDocument(ctx, noSummary))
	require.NoError(t, s.UpdateDocumentStatus(ctx, noSummary.ID, model.DocumentPending, model.DocumentProcessing))
	require.NoError(t, s.MarkDocumentProcessed(ctx, noSummary.ID, 3, ""))

	pending := &model.Document{KnowledgeBaseID: kb.ID, Title: "c"}
	require.NoError(t, s.CreateDocument(ctx, pending))

	summaries, err := s.ListDocumentSummaries(ctx, kb.ID, 20)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, withSummary.ID, summaries[0].ID)
	assert.Equal(t, "covers widgets", summaries[0].Summary)
}

func TestClearDocumentContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	doc := &model.Document{KnowledgeBaseID: kb.ID, Title: "a", Content: []byte("bytes")}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.ClearDocumentContent(ctx, doc.ID))

	content, err := s.GetDocumentContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, content)
}

// ============================================================================
// QUESTIONS
// ============================================================================

func TestQuestionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	q := &model.Question{
		KnowledgeBaseID: kb.ID,
		Question:        "What is the refund window?",
		Answer:          "30 days.",
	}
	require.NoError(t, s.CreateQuestion(ctx, q))
	assert.Equal(t, model.QuestionPending, q.Status)
	assert.Equal(t, model.AnswerDirect, q.AnswerKind)

	require.NoError(t, s.UpdateQuestionStatus(ctx, q.ID, model.QuestionPending, model.QuestionIngesting))
	require.NoError(t, s.MarkQuestionCompleted(ctx, q.ID))

	got, err := s.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionCompleted, got.Status)
}

func TestQuestionContentEditResetsStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	q := &model.Question{KnowledgeBaseID: kb.ID, Question: "Q", Answer: "A"}
	require.NoError(t, s.CreateQuestion(ctx, q))
	require.NoError(t, s.UpdateQuestionStatus(ctx, q.ID, model.QuestionPending, model.QuestionIngesting))

	// Edits are rejected mid-ingestion.
	err := s.UpdateQuestionContent(ctx, q.ID, "Q2", "A2", model.AnswerDirect)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, s.MarkQuestionCompleted(ctx, q.ID))
	require.NoError(t, s.UpdateQuestionContent(ctx, q.ID, "Q2", "A2", model.AnswerSQL))

	got, err := s.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionPending, got.Status)
	assert.Equal(t, "Q2", got.Question)
	assert.Equal(t, model.AnswerSQL, got.AnswerKind)
}

// ============================================================================
// CONVERSATIONS AND MESSAGES
// ============================================================================

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	conv := &model.Conversation{KnowledgeBaseID: kb.ID, Title: "chat"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	userMsg := &model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: "How do refunds work?"}
	require.NoError(t, s.CreateMessage(ctx, userMsg))
	assert.Equal(t, model.MessageProcessed, userMsg.Status)

	assistant := &model.Message{ConversationID: conv.ID, Role: model.RoleAssistant}
	require.NoError(t, s.CreateMessage(ctx, assistant))
	assert.Equal(t, model.MessageReceived, assistant.Status)

	require.NoError(t, s.UpdateMessageStatus(ctx, assistant.ID, model.MessageReceived, model.MessageProcessing))

	sources := []model.Source{{
		Service:    model.ServiceRAG,
		Score:      0.91,
		Content:    "Refunds are honored for 30 days.",
		DocumentID: "doc-1",
		Title:      "policy.pdf",
	}}
	metadata := map[string]any{"service": "rag", "confidence": 0.9}
	require.NoError(t, s.CompleteMessage(ctx, assistant.ID, "Refunds are honored for 30 days [Source 1].", sources, metadata))

	got, err := s.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageProcessed, got.Status)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "doc-1", got.Sources[0].DocumentID)
	assert.InDelta(t, 0.91, got.Sources[0].Score, 1e-9)
	assert.Equal(t, "rag", got.Metadata["service"])

	// Double completion loses.
	err = s.CompleteMessage(ctx, assistant.ID, "again", nil, nil)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestFailMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	conv := &model.Conversation{KnowledgeBaseID: kb.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))

	assistant := &model.Message{ConversationID: conv.ID, Role: model.RoleAssistant}
	require.NoError(t, s.CreateMessage(ctx, assistant))

	require.NoError(t, s.FailMessage(ctx, assistant.ID, "router timed out"))

	got, err := s.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageFailed, got.Status)
	assert.Equal(t, "router timed out", got.Metadata["error"])
}

func TestGetKnowledgeBaseStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kb := createTestKB(t, s)

	for i := 0; i < 2; i++ {
		doc := &model.Document{KnowledgeBaseID: kb.ID, Title: "d"}
		require.NoError(t, s.CreateDocument(ctx, doc))
	}
	q := &model.Question{KnowledgeBaseID: kb.ID, Question: "Q", Answer: "A"}
	require.NoError(t, s.CreateQuestion(ctx, q))
	conv := &model.Conversation{KnowledgeBaseID: kb.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))

	stats, err := s.GetKnowledgeBaseStats(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents[model.DocumentPending])
	assert.Equal(t, 1, stats.Questions[model.QuestionPending])
	assert.Equal(t, 1, stats.Conversations)

	_, err = s.GetKnowledgeBaseStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

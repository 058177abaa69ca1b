package ingest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/extraction"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeEmbedder struct {
	mu   sync.Mutex
	fail bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, &embedders.EmbeddingError{Provider: "fake", Model: "fake", Err: errors.New("provider down")}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int    { return 3 }
func (e *fakeEmbedder) ModelName() string { return "fake" }
func (e *fakeEmbedder) Close() error      { return nil }

func (e *fakeEmbedder) setFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

// memoryProvider is an in-memory vector backend for asserting on upserts
// and deletes.
type memoryProvider struct {
	mu      sync.Mutex
	records map[string]map[string]vectorindex.Record
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{records: make(map[string]map[string]vectorindex.Record)}
}

func (p *memoryProvider) Upsert(ctx context.Context, namespace string, records []vectorindex.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := p.records[namespace]
	if ns == nil {
		ns = make(map[string]vectorindex.Record)
		p.records[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

func (p *memoryProvider) Query(ctx context.Context, namespace string, vector []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	return nil, nil
}

func (p *memoryProvider) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.records[namespace], id)
	}
	return nil
}

func (p *memoryProvider) DeleteByFilter(ctx context.Context, namespace string, filter vectorindex.Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, record := range p.records[namespace] {
		matches := true
		for key, want := range filter {
			if s, ok := want.(string); !ok || record.Metadata[key] != s {
				matches = false
				break
			}
		}
		if matches {
			delete(p.records[namespace], id)
		}
	}
	return nil
}

func (p *memoryProvider) Name() string { return "memory" }
func (p *memoryProvider) Close() error { return nil }

func (p *memoryProvider) namespaceRecords(namespace string) []vectorindex.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vectorindex.Record, 0, len(p.records[namespace]))
	for _, r := range p.records[namespace] {
		out = append(out, r)
	}
	return out
}

func (p *memoryProvider) record(namespace, id string) (vectorindex.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[namespace][id]
	return r, ok
}

type fakeCompleter struct {
	mu      sync.Mutex
	summary string
	err     error
	prompts []string
}

func (c *fakeCompleter) RouterCompleteText(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, user)
	if c.err != nil {
		return "", c.err
	}
	return c.summary, nil
}

// ============================================================================
// SETUP
// ============================================================================

type testIngest struct {
	service   *Service
	store     *metastore.Store
	queue     *jobs.Queue
	provider  *memoryProvider
	embedder  *fakeEmbedder
	completer *fakeCompleter
	kb        *model.KnowledgeBase
}

func newTestIngest(t *testing.T) *testIngest {
	t.Helper()

	openDB := func() *sql.DB {
		db, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })
		return db
	}

	store, err := metastore.New(openDB(), config.DriverSQLite)
	require.NoError(t, err)

	queue, err := jobs.NewQueue(openDB(), config.DriverSQLite, config.JobsConfig{
		Workers:        1,
		PollInterval:   10 * time.Millisecond,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		TaskTimeout:    5 * time.Second,
		Retention:      time.Hour,
	})
	require.NoError(t, err)

	provider := newMemoryProvider()
	index, err := vectorindex.NewIndex(provider, 3)
	require.NoError(t, err)

	extractor, err := extraction.NewService(config.ExtractionConfig{}, nil)
	require.NoError(t, err)
	chunker, err := chunking.New(config.ChunkingConfig{})
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{summary: "A concise summary of the document."}

	service, err := NewService(config.IngestionConfig{}, Deps{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Extractor: extractor,
		Chunker:   chunker,
		Completer: completer,
		Queue:     queue,
	})
	require.NoError(t, err)
	require.NoError(t, service.RegisterHandlers(queue))

	kb := &model.KnowledgeBase{Name: "test-kb"}
	require.NoError(t, store.CreateKnowledgeBase(context.Background(), kb))

	return &testIngest{
		service:   service,
		store:     store,
		queue:     queue,
		provider:  provider,
		embedder:  embedder,
		completer: completer,
		kb:        kb,
	}
}

const testMarkdown = `# Guide

This introduction explains what the guide covers and why it exists. It has
enough words to produce at least one chunk at every size class.

## Setup

Install the binary, point it at a configuration file, and start the server.
The defaults work for local development without further changes.

## Usage

Upload documents through the API and ask questions against the knowledge
base. Answers cite the passages they were synthesized from.
`

func (ti *testIngest) createDocument(t *testing.T, title, contentType, content string) *model.Document {
	t.Helper()
	doc := &model.Document{
		KnowledgeBaseID: ti.kb.ID,
		Title:           title,
		ContentType:     contentType,
		Content:         []byte(content),
	}
	require.NoError(t, ti.service.CreateDocument(context.Background(), doc))
	return doc
}

func documentTask(id string, attempts int) *jobs.Task {
	return &jobs.Task{
		Name:        jobs.TaskIngestDocument,
		Args:        map[string]any{"document_id": id},
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func questionTask(id string, attempts int) *jobs.Task {
	return &jobs.Task{
		Name:        jobs.TaskIngestQuestion,
		Args:        map[string]any{"question_id": id},
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

// ============================================================================
// SERVICE CONSTRUCTION
// ============================================================================

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(config.IngestionConfig{}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestCreateDocumentDefaults(t *testing.T) {
	ti := newTestIngest(t)

	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, model.DocumentPending, doc.Status)

	stored, err := ti.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "guide.md", stored.Title)
	assert.Equal(t, model.DocumentPending, stored.Status)
}

// ============================================================================
// DOCUMENT PIPELINE
// ============================================================================

func TestIngestDocumentPipeline(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	require.NoError(t, ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1)))

	stored, err := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessed, stored.Status)
	assert.Equal(t, "A concise summary of the document.", stored.Summary)
	assert.Empty(t, stored.ErrorMessage)

	chunks := ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID))
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), stored.ChunkCount)
	for _, record := range chunks {
		assert.True(t, strings.HasPrefix(record.ID, doc.ID+"_"), "record id %s", record.ID)
		assert.Equal(t, doc.ID, record.Metadata[model.MetaDocumentID])
		assert.Equal(t, ti.kb.ID, record.Metadata[model.MetaKnowledgeBaseID])
		assert.Equal(t, "Guide", record.Metadata[model.MetaDocTitle])
		assert.Equal(t, string(model.TypeMarkdown), record.Metadata[model.MetaDocType])
		assert.NotEmpty(t, record.Metadata[model.MetaContent])
		assert.NotEmpty(t, record.Metadata[model.MetaChunkSize])
	}

	summary, ok := ti.provider.record(model.SummaryNamespace, doc.ID)
	require.True(t, ok, "summary record missing")
	assert.Equal(t, "A concise summary of the document.", summary.Metadata[model.MetaSummary])
	assert.Equal(t, "Guide", summary.Metadata[model.MetaDocTitle])

	// Raw bytes are dropped after successful processing.
	content, err := ti.store.GetDocumentContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, content)

	// Summarization saw the document text.
	require.NotEmpty(t, ti.completer.prompts)
	assert.Contains(t, ti.completer.prompts[0], "Guide")
}

func TestIngestDocumentNotFoundIsTerminal(t *testing.T) {
	ti := newTestIngest(t)

	err := ti.service.handleIngestDocument(context.Background(), documentTask("no-such-doc", 1))
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestIngestDocumentSkipsWhenAlreadyProcessed(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	require.NoError(t, ti.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))
	require.NoError(t, ti.store.MarkDocumentProcessed(ctx, doc.ID, 3, "done already"))

	require.NoError(t, ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1)))

	assert.Empty(t, ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID)))
	stored, err := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "done already", stored.Summary)
}

func TestIngestDocumentResumesAfterRetry(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	// First attempt claimed the row, then died before finishing.
	require.NoError(t, ti.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))

	require.NoError(t, ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 2)))

	stored, err := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessed, stored.Status)
	assert.NotEmpty(t, ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID)))
}

func TestReindexSameChunksKeepsRecordIDs(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	byClass := ti.service.chunker.ChunkDocument(testMarkdown, model.TypeMarkdown)
	indexAll := func() {
		for class, chunks := range byClass {
			require.NoError(t, ti.service.indexChunks(ctx, doc, "Guide", model.TypeMarkdown, class, chunks))
		}
	}

	ids := func() []string {
		records := ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID))
		out := make([]string, len(records))
		for i, r := range records {
			out[i] = r.ID
		}
		return out
	}

	indexAll()
	first := ids()
	require.NotEmpty(t, first)

	// Identical input indexed again lands on the same record ids, so
	// the rerun replaces instead of duplicating.
	indexAll()
	assert.ElementsMatch(t, first, ids())
}

func TestIngestDocumentExtractionFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "blob.bin", "application/octet-stream", "\x00\x01\x02")

	err := ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1))
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))

	stored, gerr := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.DocumentFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestIngestDocumentEmptyContentIsTerminal(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "empty.txt", model.MIMEText, "   \n\t  ")

	err := ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1))
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))

	stored, gerr := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.DocumentFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "no text content")
}

func TestIngestDocumentEmbedFailureRetries(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	ti.embedder.setFail(true)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	err := ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1))
	require.Error(t, err)
	assert.True(t, jobs.IsRetryable(err))

	// Not terminal yet: the row stays claimed for the next attempt.
	stored, gerr := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.DocumentProcessing, stored.Status)
}

func TestIngestDocumentEmbedFailureLastAttemptFails(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	ti.embedder.setFail(true)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	require.NoError(t, ti.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))

	err := ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 3))
	require.Error(t, err)

	stored, gerr := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.DocumentFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "embed")
}

func TestIngestDocumentSummaryFallsBackToPlaceholder(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	ti.completer.err = errors.New("llm down")
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)

	require.NoError(t, ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1)))

	stored, err := ti.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentProcessed, stored.Status)
	assert.Equal(t, "Summary unavailable for Guide.", stored.Summary)
}

// ============================================================================
// QUESTION PIPELINE
// ============================================================================

func TestIngestQuestionPipeline(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)

	q := &model.Question{
		KnowledgeBaseID: ti.kb.ID,
		UserID:          "user-1",
		Question:        "What is the refund window?",
		Answer:          "30 days from delivery.",
	}
	require.NoError(t, ti.service.CreateQuestion(ctx, q))
	require.NoError(t, ti.service.handleIngestQuestion(ctx, questionTask(q.ID, 1)))

	stored, err := ti.store.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionCompleted, stored.Status)

	record, ok := ti.provider.record(model.QuestionNamespace(ti.kb.ID), model.QuestionRecordID(q.ID))
	require.True(t, ok, "question record missing")
	assert.Equal(t, q.ID, record.Metadata[model.MetaQuestionID])
	assert.Equal(t, "What is the refund window?", record.Metadata[model.MetaQuestion])
	assert.Equal(t, "30 days from delivery.", record.Metadata[model.MetaAnswer])
	assert.Equal(t, string(model.AnswerDirect), record.Metadata[model.MetaAnswerType])
	assert.Equal(t, "user-1", record.Metadata[model.MetaUserID])
}

func TestUpdateQuestionReplacesVector(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)

	q := &model.Question{KnowledgeBaseID: ti.kb.ID, Question: "Q?", Answer: "Old answer."}
	require.NoError(t, ti.service.CreateQuestion(ctx, q))
	require.NoError(t, ti.service.handleIngestQuestion(ctx, questionTask(q.ID, 1)))

	require.NoError(t, ti.service.UpdateQuestion(ctx, q.ID, "Q?", "New answer.", model.AnswerDirect))

	stored, err := ti.store.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionPending, stored.Status)

	require.NoError(t, ti.service.handleIngestQuestion(ctx, questionTask(q.ID, 1)))

	record, ok := ti.provider.record(model.QuestionNamespace(ti.kb.ID), model.QuestionRecordID(q.ID))
	require.True(t, ok)
	assert.Equal(t, "New answer.", record.Metadata[model.MetaAnswer])

	// Still exactly one record for the question.
	assert.Len(t, ti.provider.namespaceRecords(model.QuestionNamespace(ti.kb.ID)), 1)
}

func TestIngestQuestionNotFoundIsTerminal(t *testing.T) {
	ti := newTestIngest(t)

	err := ti.service.handleIngestQuestion(context.Background(), questionTask("no-such-question", 1))
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))
}

// ============================================================================
// VECTOR CLEANUP
// ============================================================================

func TestDeleteDocumentCleansVectors(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	doc := ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)
	require.NoError(t, ti.service.handleIngestDocument(ctx, documentTask(doc.ID, 1)))
	require.NotEmpty(t, ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID)))

	require.NoError(t, ti.service.DeleteDocument(ctx, doc.ID))
	_, err := ti.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	task := &jobs.Task{
		Name: jobs.TaskDeleteDocumentVector,
		Args: map[string]any{
			"document_id":       doc.ID,
			"knowledge_base_id": ti.kb.ID,
		},
		Attempts:    1,
		MaxAttempts: 3,
	}
	require.NoError(t, ti.service.handleDeleteDocumentVectors(ctx, task))

	assert.Empty(t, ti.provider.namespaceRecords(model.ChunkNamespace(ti.kb.ID)))
	_, ok := ti.provider.record(model.SummaryNamespace, doc.ID)
	assert.False(t, ok, "summary record should be gone")

	// Re-running the cleanup is a no-op.
	require.NoError(t, ti.service.handleDeleteDocumentVectors(ctx, task))
}

func TestDeleteQuestionRemovesVector(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)

	q := &model.Question{KnowledgeBaseID: ti.kb.ID, Question: "Q?", Answer: "A."}
	require.NoError(t, ti.service.CreateQuestion(ctx, q))
	require.NoError(t, ti.service.handleIngestQuestion(ctx, questionTask(q.ID, 1)))

	require.NoError(t, ti.service.DeleteQuestion(ctx, q.ID))
	_, err := ti.store.GetQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	task := &jobs.Task{
		Name: jobs.TaskDeleteQuestionVector,
		Args: map[string]any{
			"question_id":       q.ID,
			"knowledge_base_id": ti.kb.ID,
		},
		Attempts:    1,
		MaxAttempts: 3,
	}
	require.NoError(t, ti.service.handleDeleteQuestionVector(ctx, task))
	assert.Empty(t, ti.provider.namespaceRecords(model.QuestionNamespace(ti.kb.ID)))
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)

	ti.createDocument(t, "guide.md", model.MIMEMarkdown, testMarkdown)
	q := &model.Question{KnowledgeBaseID: ti.kb.ID, Question: "Q?", Answer: "A."}
	require.NoError(t, ti.service.CreateQuestion(ctx, q))

	require.NoError(t, ti.service.DeleteKnowledgeBase(ctx, ti.kb.ID))

	_, err := ti.store.GetKnowledgeBase(ctx, ti.kb.ID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)
	docs, err := ti.store.ListDocuments(ctx, ti.kb.ID, metastore.ListDocumentsOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// ============================================================================
// SUMMARY HELPERS
// ============================================================================

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "short text", truncatePreview("short text", 100))
	assert.Equal(t, "", truncatePreview("", 100))

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	got := truncatePreview(long, 200)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, strings.HasPrefix(long, got))
	assert.True(t, utf8.ValidString(got))

	// Multibyte input never gets cut mid-rune.
	accented := strings.Repeat("héllo wörld ", 40)
	got = truncatePreview(accented, 100)
	assert.LessOrEqual(t, len(got), 100)
	assert.True(t, utf8.ValidString(got))
}

func TestCapRunes(t *testing.T) {
	assert.Equal(t, "abc", capRunes("abc", 10))
	assert.Equal(t, "abc", capRunes("abcdef", 3))
	assert.Equal(t, "hél", capRunes("héllo", 3))
	assert.Equal(t, "abc", capRunes("abc", 0))
}

// ============================================================================
// WATCH-FOLDER SOURCE
// ============================================================================

func TestNewSourceValidation(t *testing.T) {
	ti := newTestIngest(t)

	_, err := NewSource(config.WatchConfig{KnowledgeBase: "kb"}, ti.service)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")

	_, err = NewSource(config.WatchConfig{Path: t.TempDir()}, ti.service)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "knowledge base")
}

func TestSourceMatches(t *testing.T) {
	s := &Source{cfg: config.WatchConfig{}}
	assert.True(t, s.matches("anything.md"))

	s.cfg.Patterns = []string{"*.md", "*.pdf"}
	assert.True(t, s.matches("notes.md"))
	assert.True(t, s.matches("paper.pdf"))
	assert.False(t, s.matches("image.png"))
}

func TestContentTypeForFile(t *testing.T) {
	assert.Equal(t, model.MIMEMarkdown, ContentTypeForFile("notes.md"))
	assert.Equal(t, model.MIMEPDF, ContentTypeForFile("paper.pdf"))
	assert.Equal(t, model.MIMEJPEG, ContentTypeForFile("photo.JPG"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFile("blob.bin"))
}

func TestWatchSourceLifecycle(t *testing.T) {
	ctx := context.Background()
	ti := newTestIngest(t)
	dir := t.TempDir()

	source, err := NewSource(config.WatchConfig{
		Path:          dir,
		KnowledgeBase: ti.kb.ID,
		Patterns:      []string{"*.md"},
		Debounce:      20 * time.Millisecond,
	}, ti.service)
	require.NoError(t, err)
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { _ = source.Stop() })

	// A new file becomes a pending document.
	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# One\n\nfirst version"), 0o644))

	var doc *model.Document
	require.Eventually(t, func() bool {
		docs, err := ti.store.ListDocuments(ctx, ti.kb.ID, metastore.ListDocumentsOptions{})
		if err != nil || len(docs) != 1 {
			return false
		}
		doc = docs[0]
		return true
	}, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, "guide.md", doc.Title)
	assert.Equal(t, model.DocumentPending, doc.Status)

	// Ignored extensions never become documents.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("nope"), 0o644))

	// A rewrite replaces the document.
	require.NoError(t, os.WriteFile(path, []byte("# Two\n\nsecond version"), 0o644))
	require.Eventually(t, func() bool {
		docs, err := ti.store.ListDocuments(ctx, ti.kb.ID, metastore.ListDocumentsOptions{})
		if err != nil || len(docs) != 1 || docs[0].ID == doc.ID {
			return false
		}
		content, err := ti.store.GetDocumentContent(ctx, docs[0].ID)
		return err == nil && strings.Contains(string(content), "second version")
	}, 5*time.Second, 25*time.Millisecond)

	// Removing the file deletes the document.
	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		docs, err := ti.store.ListDocuments(ctx, ti.kb.ID, metastore.ListDocumentsOptions{})
		return err == nil && len(docs) == 0
	}, 5*time.Second, 25*time.Millisecond)
}

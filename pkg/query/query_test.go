package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbrain-ai/docbrain/pkg/chunking"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/reranking"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// Markers identify which default prompt a completion call rendered, so
// the fake can dispatch canned replies per pipeline stage.
const (
	markClassify   = "You route user queries"
	markRefine     = "Rewrite the curated answer"
	markPreselect  = "Select the documents"
	markSubQ       = "simpler sub-questions"
	markVariations = "Rephrase the query"
	markIntent     = "Classify the intent"
	markSynthesis  = "using only the provided sources"
	markSQL        = "read-only SQL SELECT"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  bool
	texts []string
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
		return nil, errors.New("failed to embed: provider down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		e.texts = append(e.texts, text)
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

func (e *fakeEmbedder) embedded(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Contains(e.texts, text)
}

type providerQuery struct {
	namespace string
	filter    vectorindex.Filter
}

// fakeProvider returns canned matches per namespace, honoring metadata
// filters. emptyChunkQueries makes the first N chunk searches come back
// empty so fallback strategies can be exercised.
type fakeProvider struct {
	mu                sync.Mutex
	matches           map[string][]vectorindex.Match
	queries           []providerQuery
	chunkNamespace    string
	emptyChunkQueries int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{matches: make(map[string][]vectorindex.Match)}
}

func (p *fakeProvider) setMatches(namespace string, matches []vectorindex.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches[namespace] = matches
}

func (p *fakeProvider) Query(_ context.Context, namespace string, _ []float32, _ int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, providerQuery{namespace: namespace, filter: filter})
	if namespace == p.chunkNamespace && p.emptyChunkQueries > 0 {
		p.emptyChunkQueries--
		return nil, nil
	}
	var out []vectorindex.Match
	for _, m := range p.matches[namespace] {
		if matchesFilter(m.Metadata, filter) {
			out = append(out, m)
		}
	}
	return out, nil
}

func matchesFilter(metadata map[string]string, filter vectorindex.Filter) bool {
	for key, want := range filter {
		switch v := want.(type) {
		case string:
			if metadata[key] != v {
				return false
			}
		case []string:
			if !slices.Contains(v, metadata[key]) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (p *fakeProvider) Upsert(context.Context, string, []vectorindex.Record) error { return nil }
func (p *fakeProvider) DeleteByIDs(context.Context, string, []string) error        { return nil }
func (p *fakeProvider) DeleteByFilter(context.Context, string, vectorindex.Filter) error {
	return nil
}
func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) queried() []providerQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.queries)
}

func (p *fakeProvider) chunkQueries() []providerQuery {
	var out []providerQuery
	for _, q := range p.queried() {
		if q.namespace == p.chunkNamespace {
			out = append(out, q)
		}
	}
	return out
}

// fakeCompleter dispatches canned replies by prompt marker. Prompts
// that match no marker error out so a test cannot silently depend on a
// stage it did not script.
type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]string
	errOn   map[string]error
	calls   []string
	last    map[string]string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		replies: make(map[string]string),
		errOn:   make(map[string]error),
		last:    make(map[string]string),
	}
}

func (c *fakeCompleter) set(marker, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[marker] = reply
}

func (c *fakeCompleter) failOn(marker string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errOn[marker] = err
}

func (c *fakeCompleter) called(marker string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.calls, marker)
}

func (c *fakeCompleter) prompt(marker string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[marker]
}

func (c *fakeCompleter) reply(user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for marker, err := range c.errOn {
		if strings.Contains(user, marker) {
			c.calls = append(c.calls, marker)
			c.last[marker] = user
			return "", err
		}
	}
	for marker, text := range c.replies {
		if strings.Contains(user, marker) {
			c.calls = append(c.calls, marker)
			c.last[marker] = user
			return text, nil
		}
	}
	return "", fmt.Errorf("no canned reply matches prompt: %.60q", user)
}

func (c *fakeCompleter) CompleteText(_ context.Context, _, user string) (string, error) {
	return c.reply(user)
}

func (c *fakeCompleter) RouterCompleteText(_ context.Context, _, user string) (string, error) {
	return c.reply(user)
}

type fakeTag struct {
	mu     sync.Mutex
	result *TagResult
	err    error
	calls  int
}

func (t *fakeTag) Answer(context.Context, string, string) (*TagResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

func (t *fakeTag) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeQuerier struct {
	mu    sync.Mutex
	rows  []map[string]string
	err   error
	got   string
	calls int
}

func (q *fakeQuerier) QueryRows(_ context.Context, query string) ([]map[string]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.got = query
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

// ============================================================================
// SETUP
// ============================================================================

type testRouter struct {
	router    *Router
	store     *metastore.Store
	queue     *jobs.Queue
	provider  *fakeProvider
	embedder  *fakeEmbedder
	completer *fakeCompleter
	kb        *model.KnowledgeBase
	conv      *model.Conversation
}

func newTestRouter(t *testing.T, cfg config.QueryConfig, tag Tag) *testRouter {
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

	provider := newFakeProvider()
	index, err := vectorindex.NewIndex(provider, 3)
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	completer := newFakeCompleter()

	router, err := NewRouter(cfg, Deps{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Completer: completer,
		Tag:       tag,
		Queue:     queue,
	})
	require.NoError(t, err)
	require.NoError(t, router.RegisterHandlers(queue))

	ctx := context.Background()
	kb := &model.KnowledgeBase{Name: "test-kb"}
	require.NoError(t, store.CreateKnowledgeBase(ctx, kb))
	conv := &model.Conversation{KnowledgeBaseID: kb.ID, Title: "test"}
	require.NoError(t, store.CreateConversation(ctx, conv))

	provider.chunkNamespace = model.ChunkNamespace(kb.ID)

	return &testRouter{
		router:    router,
		store:     store,
		queue:     queue,
		provider:  provider,
		embedder:  embedder,
		completer: completer,
		kb:        kb,
		conv:      conv,
	}
}

func (tr *testRouter) seedCuratedHit(score float32) {
	tr.provider.setMatches(model.QuestionNamespace(tr.kb.ID), []vectorindex.Match{{
		ID:    model.QuestionRecordID("q-1"),
		Score: score,
		Metadata: map[string]string{
			model.MetaQuestionID: "q-1",
			model.MetaQuestion:   "What is the refund window?",
			model.MetaAnswer:     "Refunds are accepted within 30 days.",
			model.MetaAnswerType: "DIRECT",
		},
	}})
}

func (tr *testRouter) seedChunks(matches ...vectorindex.Match) {
	tr.provider.setMatches(model.ChunkNamespace(tr.kb.ID), matches)
}

func chunkMatch(id, docID, title, content string, score float32) vectorindex.Match {
	return vectorindex.Match{
		ID:      id,
		Score:   score,
		Content: content,
		Metadata: map[string]string{
			model.MetaDocumentID: docID,
			model.MetaDocTitle:   title,
			model.MetaChunkIndex: "0",
			model.MetaChunkSize:  "MEDIUM",
			model.MetaDocType:    "markdown",
			model.MetaContent:    content,
		},
	}
}

func (tr *testRouter) seedSummarizedDoc(t *testing.T, title, summary string) *model.Document {
	t.Helper()
	ctx := context.Background()
	doc := &model.Document{
		KnowledgeBaseID: tr.kb.ID,
		Title:           title,
		ContentType:     model.MIMEMarkdown,
		Content:         []byte("content"),
	}
	require.NoError(t, tr.store.CreateDocument(ctx, doc))
	require.NoError(t, tr.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPending, model.DocumentProcessing))
	require.NoError(t, tr.store.MarkDocumentProcessed(ctx, doc.ID, 1, summary))
	return doc
}

func answerTask(messageID, kbID, query string, attempts int) *jobs.Task {
	return &jobs.Task{
		Name:        jobs.TaskAnswerMessage,
		Args:        map[string]any{"message_id": messageID, "knowledge_base_id": kbID, "query": query},
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func boolPtr(b bool) *bool { return &b }

// ============================================================================
// ROUTER
// ============================================================================

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(config.QueryConfig{}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestAnswerEmptyQuery(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)

	result := tr.router.Answer(context.Background(), "   ", tr.kb.ID, Options{})
	assert.Equal(t, model.ServiceUnknown, result.Service)
	assert.True(t, result.RoutingInfo.Fallback)
	assert.Contains(t, result.Answer, "query is empty")
}

func TestAnswerCuratedProbeWins(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedCuratedHit(0.9)
	tr.completer.set(markRefine, "Refunds are accepted for 30 days after purchase.")

	result := tr.router.Answer(context.Background(), "How long do I have to return a purchase?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceQuestions, result.Service)
	assert.Equal(t, "Refunds are accepted for 30 days after purchase.", result.Answer)
	require.Len(t, result.Sources, 1)
	source := result.Sources[0]
	assert.Equal(t, model.ServiceQuestions, source.Service)
	assert.Equal(t, "q-1", source.QuestionID)
	assert.Equal(t, "What is the refund window?", source.Question)
	assert.Equal(t, "Refunds are accepted within 30 days.", source.Answer)
	assert.Equal(t, "DIRECT", source.AnswerType)
	assert.InDelta(t, 0.9, source.Score, 1e-6)

	assert.Equal(t, model.ServiceQuestions, result.RoutingInfo.Service)
	assert.InDelta(t, 0.9, result.RoutingInfo.Confidence, 1e-6)
	assert.False(t, result.RoutingInfo.Fallback)

	// The probe answered outright: no classification, no chunk search.
	assert.False(t, tr.completer.called(markClassify))
	assert.Empty(t, tr.provider.chunkQueries())
}

func TestAnswerCuratedProbeBelowThresholdRoutes(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedCuratedHit(0.5)
	tr.seedChunks(chunkMatch("c-1", "doc-1", "Policies", "Returns are accepted within 30 days.", 0.8))
	tr.completer.set(markSynthesis, "Returns are accepted within 30 days [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I return a purchase?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	assert.False(t, tr.completer.called(markRefine))
	require.NotEmpty(t, tr.provider.chunkQueries())
}

func TestAnswerCuratedRefineFailureReturnsStoredAnswer(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedCuratedHit(0.9)
	tr.completer.failOn(markRefine, errors.New("llm down"))

	result := tr.router.Answer(context.Background(), "How long do I have to return a purchase?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceQuestions, result.Service)
	assert.Equal(t, "Refunds are accepted within 30 days.", result.Answer)
}

func TestAnswerSkipsClassificationWithoutTag(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedChunks(chunkMatch("c-1", "doc-1", "Guide", "Install the binary and start it.", 0.8))
	tr.completer.set(markSynthesis, "Install the binary and start it [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I install the server?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	assert.False(t, tr.completer.called(markClassify))
	assert.Equal(t, "retrieval is the only enabled service", result.RoutingInfo.Reasoning)
	assert.InDelta(t, 1.0, result.RoutingInfo.Confidence, 1e-9)
}

func TestAnswerDispatchesToTag(t *testing.T) {
	tag := &fakeTag{result: &TagResult{
		Answer:  "The query returned 1 row.\n\ncount\n42",
		SQL:     "SELECT COUNT(*) AS count FROM documents",
		Sources: []model.Source{{Service: model.ServiceTAG, Score: 1, Content: "SELECT COUNT(*) AS count FROM documents"}},
	}}
	tr := newTestRouter(t, config.QueryConfig{TagEnabled: true}, tag)
	tr.completer.set(markClassify, `{"service": "tag", "confidence": 0.92, "reasoning": "asks for a count"}`)

	result := tr.router.Answer(context.Background(), "How many documents are indexed?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceTAG, result.Service)
	assert.Contains(t, result.Answer, "42")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, model.ServiceTAG, result.Sources[0].Service)
	assert.Equal(t, 1, tag.callCount())

	assert.Equal(t, model.ServiceTAG, result.RoutingInfo.Service)
	assert.InDelta(t, 0.92, result.RoutingInfo.Confidence, 1e-9)
	assert.False(t, result.RoutingInfo.Fallback)
}

func TestAnswerTagLowConfidenceFallsBack(t *testing.T) {
	tag := &fakeTag{}
	tr := newTestRouter(t, config.QueryConfig{TagEnabled: true}, tag)
	tr.completer.set(markClassify, `{"service": "tag", "confidence": 0.4, "reasoning": "might be a count"}`)
	tr.completer.set(markSubQ, "")
	tr.completer.set(markVariations, "")

	result := tr.router.Answer(context.Background(), "How many users signed up?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	assert.True(t, result.RoutingInfo.Fallback)
	assert.Contains(t, result.RoutingInfo.Reasoning, "below threshold")
	assert.Equal(t, 0, tag.callCount())
}

func TestAnswerForcedService(t *testing.T) {
	tag := &fakeTag{result: &TagResult{Answer: "forced", Sources: []model.Source{}}}
	tr := newTestRouter(t, config.QueryConfig{}, tag)

	result := tr.router.Answer(context.Background(), "How many rows are there?", tr.kb.ID, Options{Service: model.ServiceTAG})

	assert.Equal(t, model.ServiceTAG, result.Service)
	assert.Equal(t, 1, tag.callCount())
	assert.False(t, tr.completer.called(markClassify))
	assert.Equal(t, "service forced by caller", result.RoutingInfo.Reasoning)
}

func TestAnswerUnparseableClassificationFallsBack(t *testing.T) {
	tag := &fakeTag{}
	tr := newTestRouter(t, config.QueryConfig{TagEnabled: true}, tag)
	tr.completer.set(markClassify, "I would route this to retrieval, probably.")
	tr.completer.set(markSubQ, "")
	tr.completer.set(markVariations, "")

	result := tr.router.Answer(context.Background(), "How does checkpointing work?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	assert.True(t, result.RoutingInfo.Fallback)
	assert.Equal(t, "unparseable service classification", result.RoutingInfo.Reasoning)
	assert.Equal(t, 0, tag.callCount())
}

func TestAnswerDegradesToErrorResult(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.embedder.setFail(true)

	result := tr.router.Answer(context.Background(), "How do I install the server?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceUnknown, result.Service)
	assert.True(t, result.RoutingInfo.Fallback)
	assert.Contains(t, result.RoutingInfo.Reasoning, "embed")
	assert.Contains(t, result.Answer, "error")
	require.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
}

// ============================================================================
// CLASSIFICATION PARSING
// ============================================================================

func TestParseRouterDecision(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		service    model.Service
		confidence float64
	}{
		{
			name:       "clean json",
			raw:        `{"service": "tag", "confidence": 0.9, "reasoning": "needs a count"}`,
			service:    model.ServiceTAG,
			confidence: 0.9,
		},
		{
			name:       "json wrapped in prose",
			raw:        "Sure, here is the routing:\n```json\n{\"service\": \"rag\", \"confidence\": 0.6, \"reasoning\": \"document question\"}\n```\nHope that helps.",
			service:    model.ServiceRAG,
			confidence: 0.6,
		},
		{
			name:       "trailing comma",
			raw:        `{"service": "rag", "confidence": 0.5, "reasoning": "unsure",}`,
			service:    model.ServiceRAG,
			confidence: 0.5,
		},
		{
			name:       "confidence clamped",
			raw:        `{"service": "tag", "confidence": 1.7, "reasoning": "very sure"}`,
			service:    model.ServiceTAG,
			confidence: 1,
		},
		{
			name:       "case insensitive service",
			raw:        `{"service": "TAG", "confidence": 0.8, "reasoning": "x"}`,
			service:    model.ServiceTAG,
			confidence: 0.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseRouterDecision(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.service, d.service)
			assert.InDelta(t, tt.confidence, d.confidence, 1e-9)
		})
	}

	errorCases := []struct {
		name string
		raw  string
	}{
		{"no json", "route it to rag"},
		{"unknown service", `{"service": "sql", "confidence": 0.9, "reasoning": "x"}`},
		{"malformed json", `{"service": }`},
		{"empty", ""},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRouterDecision(tt.raw)
			require.Error(t, err)
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"nested braces", `prefix {"a": {"b": 2}} suffix`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "}{"}`, `{"a": "}{"}`},
		{"escaped quote", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"unbalanced", `{"a": 1`, ""},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}

// ============================================================================
// RAG RETRIEVAL
// ============================================================================

func TestRetrievePreselectionFiltersChunks(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	doc := tr.seedSummarizedDoc(t, "API Guide", "Explains API key management and rotation.")
	tr.seedChunks(
		chunkMatch("c-1", doc.ID, "API Guide", "Rotate keys from the settings page.", 0.9),
		chunkMatch("c-2", "other-doc", "Unrelated", "Nothing about keys.", 0.8),
	)
	tr.completer.set(markPreselect, "RELEVANT_DOCUMENTS: doc_1")
	tr.completer.set(markSynthesis, "Rotate keys from the settings page [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I rotate the API keys?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, doc.ID, result.Sources[0].DocumentID)

	// The summary block numbered our document and the chunk query
	// carried its id as a filter.
	assert.Contains(t, tr.completer.prompt(markPreselect), "doc_1: API Guide")
	chunkQueries := tr.provider.chunkQueries()
	require.Len(t, chunkQueries, 1)
	assert.Equal(t, []string{doc.ID}, chunkQueries[0].filter[model.MetaDocumentID])
}

func TestRetrieveRetriesWithoutFilterWhenEmpty(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedSummarizedDoc(t, "Billing FAQ", "Answers common billing questions.")
	tr.seedChunks(chunkMatch("c-1", "other-doc", "Pricing", "Plans are billed monthly.", 0.7))
	tr.completer.set(markPreselect, "RELEVANT_DOCUMENTS: doc_1")
	tr.completer.set(markSynthesis, "Plans are billed monthly [Source 1].")

	result := tr.router.Answer(context.Background(), "How often are plans billed?", tr.kb.ID, Options{})

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "other-doc", result.Sources[0].DocumentID)

	// First search was filtered to the preselected document and found
	// nothing; the retry dropped the filter.
	chunkQueries := tr.provider.chunkQueries()
	require.Len(t, chunkQueries, 2)
	assert.Contains(t, chunkQueries[0].filter, model.MetaDocumentID)
	assert.NotContains(t, chunkQueries[1].filter, model.MetaDocumentID)
}

func TestRetrievePreselectionNoneSearchesEverything(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedSummarizedDoc(t, "Release Notes", "Lists changes per release.")
	tr.seedChunks(chunkMatch("c-1", "doc-1", "Release Notes", "Version 2 adds exports.", 0.8))
	tr.completer.set(markPreselect, "RELEVANT_DOCUMENTS: NONE")
	tr.completer.set(markSynthesis, "Version 2 adds exports [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I export my data?", tr.kb.ID, Options{})

	require.Len(t, result.Sources, 1)
	chunkQueries := tr.provider.chunkQueries()
	require.Len(t, chunkQueries, 1)
	assert.NotContains(t, chunkQueries[0].filter, model.MetaDocumentID)
}

func TestRetrieveSubQuestionFallback(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedChunks(
		chunkMatch("c-1", "doc-1", "Ops Guide", "Backups run nightly at 02:00.", 0.9),
		chunkMatch("c-2", "doc-1", "Ops Guide", "Restore from the latest snapshot.", 0.7),
	)
	tr.provider.emptyChunkQueries = 1
	tr.completer.set(markSubQ, strings.Join([]string{
		"SUBQUESTION: When do backups run? | RATIONALE: targets the schedule",
		"SUBQUESTION: How is a backup restored? | RATIONALE: targets recovery",
	}, "\n"))
	tr.completer.set(markSynthesis, "Backups run nightly and restore from snapshots [Source 1][Source 2].")

	result := tr.router.Answer(context.Background(), "How do we back up and restore the cluster?", tr.kb.ID, Options{})

	assert.Equal(t, model.ServiceRAG, result.Service)
	// Both sub-questions were embedded and their shared hits deduped.
	assert.True(t, tr.embedder.embedded("When do backups run?"))
	assert.True(t, tr.embedder.embedded("How is a backup restored?"))
	assert.Len(t, result.Sources, 2)
}

func TestRetrieveVariationsFallback(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{DecompositionEnabled: boolPtr(false)}, nil)
	tr.seedChunks(chunkMatch("c-1", "doc-1", "Auth Guide", "Enable SSO under settings.", 0.8))
	tr.provider.emptyChunkQueries = 1
	tr.completer.set(markVariations, strings.Join([]string{
		"1. How to turn on single sign-on?",
		`"Enable the SSO integration"`,
		"- Configure single sign-on",
	}, "\n"))
	tr.completer.set(markSynthesis, "Enable SSO under settings [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I set up SSO?", tr.kb.ID, Options{})

	require.Len(t, result.Sources, 1)
	assert.False(t, tr.completer.called(markSubQ))
	assert.True(t, tr.embedder.embedded("How to turn on single sign-on?"))
	assert.True(t, tr.embedder.embedded("Enable the SSO integration"))
	assert.True(t, tr.embedder.embedded("Configure single sign-on"))
}

func TestRetrieveNoResults(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.completer.set(markSubQ, "I cannot break this down further.")
	tr.completer.set(markVariations, "")

	result := tr.router.Answer(context.Background(), "How do I enable dark mode?", tr.kb.ID, Options{})

	assert.Equal(t, noResultsAnswer, result.Answer)
	assert.Equal(t, model.ServiceRAG, result.Service)
	assert.Empty(t, result.Sources)
	assert.False(t, tr.completer.called(markSynthesis))
}

func TestRetrieveSynthesizesWithSources(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	top := chunkMatch("c-1", "doc-1", "Runbook", "Retries use exponential backoff.", 0.9)
	top.Metadata[model.MetaSection] = "Background"
	top.Metadata[model.MetaChunkIndex] = "2"
	tr.seedChunks(
		top,
		chunkMatch("c-2", "doc-1", "Runbook", "Alerts page on the third failure.", 0.8),
	)
	tr.completer.set(markSynthesis, "Retries use exponential backoff [Source 1].")

	result := tr.router.Answer(context.Background(), "Explain the retry policy in detail", tr.kb.ID, Options{})

	assert.Equal(t, "Retries use exponential backoff [Source 1].", result.Answer)
	assert.Equal(t, "EXPLANATION", result.RoutingInfo.Intent)
	require.Len(t, result.Sources, 2)
	source := result.Sources[0]
	assert.Equal(t, "doc-1", source.DocumentID)
	assert.Equal(t, "Runbook", source.Title)
	assert.Equal(t, 2, source.ChunkIndex)
	assert.Equal(t, "Background", source.Section)
	assert.InDelta(t, 0.9, source.Score, 1e-6)
	assert.InDelta(t, 0.9, source.OriginalScore, 1e-6)

	prompt := tr.completer.prompt(markSynthesis)
	assert.Contains(t, prompt, "[Source 1] Runbook / Background (score 0.90)")
	assert.Contains(t, prompt, "Retries use exponential backoff.")
	assert.Contains(t, prompt, "Explain step by step")
}

func TestRetrieveSimilarityThreshold(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{SimilarityThreshold: 0.5}, nil)
	tr.seedChunks(
		chunkMatch("c-1", "doc-1", "Guide", "Relevant passage.", 0.9),
		chunkMatch("c-2", "doc-1", "Guide", "Barely related passage.", 0.3),
	)
	tr.completer.set(markSynthesis, "The relevant passage answers it [Source 1].")

	result := tr.router.Answer(context.Background(), "How do I install the server?", tr.kb.ID, Options{})

	require.Len(t, result.Sources, 1)
	assert.Equal(t, "Relevant passage.", result.Sources[0].Content)
}

func TestRetrieveContextChunksCap(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{ContextChunks: 2}, nil)
	tr.seedChunks(
		chunkMatch("c-1", "doc-1", "Guide", "First passage.", 0.9),
		chunkMatch("c-2", "doc-1", "Guide", "Second passage.", 0.8),
		chunkMatch("c-3", "doc-1", "Guide", "Third passage.", 0.7),
	)
	tr.completer.set(markSynthesis, "Answered from the top passages [Source 1][Source 2].")

	result := tr.router.Answer(context.Background(), "How do I install the server?", tr.kb.ID, Options{})

	assert.Len(t, result.Sources, 2)
	assert.NotContains(t, tr.completer.prompt(markSynthesis), "Third passage.")
}

// ============================================================================
// REPLY PARSING
// ============================================================================

func TestParsePreselection(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		count int
		want  []int
	}{
		{"doc prefix", "RELEVANT_DOCUMENTS: doc_1,doc_3", 5, []int{1, 3}},
		{"bare numbers", "RELEVANT_DOCUMENTS: 2, 4", 5, []int{2, 4}},
		{"preceded by prose", "Looking at the summaries.\nRELEVANT_DOCUMENTS: doc_2", 3, []int{2}},
		{"none", "RELEVANT_DOCUMENTS: NONE", 3, nil},
		{"out of range", "RELEVANT_DOCUMENTS: doc_9", 3, nil},
		{"duplicates collapsed", "RELEVANT_DOCUMENTS: doc_1, doc_1, 1", 3, []int{1}},
		{"junk tokens skipped", "RELEVANT_DOCUMENTS: doc_1, banana, 2", 3, []int{1, 2}},
		{"marker missing", "these all look relevant", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePreselection(tt.raw, tt.count)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseSubQuestions(t *testing.T) {
	raw := strings.Join([]string{
		"Here is the breakdown:",
		"SUBQUESTION: When do backups run? | RATIONALE: schedule",
		"SUBQUESTION: Where are backups stored?",
		"not a subquestion line",
		"SUBQUESTION: How long are backups kept? | RATIONALE: retention",
		"SUBQUESTION: A fourth question that exceeds the cap | RATIONALE: extra",
	}, "\n")

	subs := parseSubQuestions(raw)
	assert.Equal(t, []string{
		"When do backups run?",
		"Where are backups stored?",
		"How long are backups kept?",
	}, subs)

	assert.Empty(t, parseSubQuestions("no structured lines here"))
}

func TestParseVariations(t *testing.T) {
	raw := strings.Join([]string{
		"1. How to configure alerts?",
		"2) Setting up alert notifications",
		`- "Alert configuration steps"`,
		"",
		"How do I set up alerts?",
		"* Alerting setup guide",
	}, "\n")

	got := parseVariations(raw, "How do I set up alerts?")
	assert.Equal(t, []string{
		"How to configure alerts?",
		"Setting up alert notifications",
		"Alert configuration steps",
		"Alerting setup guide",
	}, got)
}

func TestTrimListNumber(t *testing.T) {
	assert.Equal(t, "foo", trimListNumber("1. foo"))
	assert.Equal(t, "bar", trimListNumber("12) bar"))
	assert.Equal(t, "2 ways to do it", trimListNumber("2 ways to do it"))
	assert.Equal(t, "plain", trimListNumber("plain"))
}

// ============================================================================
// INTENT
// ============================================================================

func TestClassifyIntentPatterns(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)

	tests := []struct {
		query string
		want  Intent
	}{
		{"Compare chromem and qdrant for this workload", IntentComparison},
		{"What are the differences between SMALL and LARGE chunks?", IntentComparison},
		{"How do I deploy the worker?", IntentProcedural},
		{"What are the steps to restore a backup?", IntentProcedural},
		{"Why does the cache evict entries early?", IntentCauseEffect},
		{"What is a vector index?", IntentDefinition},
		{"List the supported document formats", IntentList},
		{"Explain the retry policy in detail", IntentExplanation},
		{"How many replicas are configured?", IntentFactoid},
		{"Evaluate the trade-offs of sharding the index", IntentAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := tr.router.rag.classifyIntent(context.Background(), tt.query)
			assert.Equal(t, tt.want, got)
			assert.False(t, tr.completer.called(markIntent))
		})
	}
}

func TestClassifyIntentLLMFallback(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.completer.set(markIntent, "EXPLANATION")

	got := tr.router.rag.classifyIntent(context.Background(), "Tell me about the ingestion architecture")
	assert.Equal(t, IntentExplanation, got)
	assert.True(t, tr.completer.called(markIntent))
}

func TestClassifyIntentLLMFailureIsUnknown(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.completer.failOn(markIntent, errors.New("llm down"))

	got := tr.router.rag.classifyIntent(context.Background(), "Tell me about the ingestion architecture")
	assert.Equal(t, IntentUnknown, got)
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentFactoid, parseIntent("FACTOID"))
	assert.Equal(t, IntentComparison, parseIntent(" comparison \n"))
	assert.Equal(t, IntentList, parseIntent("The intent is LIST."))
	assert.Equal(t, IntentUnknown, parseIntent("gibberish"))
	assert.Equal(t, IntentUnknown, parseIntent(""))
}

func TestGuidance(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)

	assert.Contains(t, tr.router.rag.guidance(IntentExplanation), "Explain step by step")
	assert.Contains(t, tr.router.rag.guidance(IntentList), "bullet list")
	assert.Equal(t, "Answer as directly as the sources allow.", tr.router.rag.guidance(IntentUnknown))
}

func TestApplyBoosts(t *testing.T) {
	candidates := []reranking.Candidate{
		{ID: "small", Score: 0.5, Metadata: map[string]string{model.MetaChunkSize: "SMALL"}},
		{ID: "sheet", Score: 0.5, Metadata: map[string]string{model.MetaChunkSize: "LARGE", model.MetaDocType: "xlsx"}},
		{ID: "section", Score: 0.5, Metadata: map[string]string{model.MetaSection: "Collector Version Table"}},
		{ID: "plain", Score: 0.5, Metadata: map[string]string{}},
	}

	applyBoosts(candidates, "What table shows the collector version?", IntentFactoid)

	assert.InDelta(t, 0.6, candidates[0].Score, 1e-9)  // preferred chunk size
	assert.InDelta(t, 0.65, candidates[1].Score, 1e-9) // doc type matches "table"
	assert.InDelta(t, 0.65, candidates[2].Score, 1e-9) // three keyword hits in the section
	assert.InDelta(t, 0.5, candidates[3].Score, 1e-9)  // untouched
}

func TestPreferredChunkSize(t *testing.T) {
	assert.Equal(t, chunking.SizeSmall, preferredChunkSize(IntentFactoid))
	assert.Equal(t, chunking.SizeSmall, preferredChunkSize(IntentDefinition))
	assert.Equal(t, chunking.SizeLarge, preferredChunkSize(IntentExplanation))
	assert.Equal(t, chunking.SizeLarge, preferredChunkSize(IntentAnalysis))
	assert.Equal(t, chunking.SizeClass(""), preferredChunkSize(IntentList))
}

func TestQueryKeywords(t *testing.T) {
	got := queryKeywords("What is the refund policy for enterprise customers?")
	assert.Equal(t, map[string]bool{
		"refund":     true,
		"policy":     true,
		"enterprise": true,
		"customers":  true,
	}, got)
}

// ============================================================================
// TAG
// ============================================================================

func TestValidateReadOnlyQuery(t *testing.T) {
	valid := []string{
		"SELECT * FROM documents",
		"select count(*) from documents;",
		"WITH recent AS (SELECT 1) SELECT * FROM recent",
		"SELECT * FROM created_items",
	}
	for _, q := range valid {
		assert.NoError(t, ValidateReadOnlyQuery(q), q)
	}

	invalid := []struct {
		query string
		want  string
	}{
		{"", "empty"},
		{"   ;  ", "empty"},
		{"DROP TABLE documents", "only SELECT"},
		{"INSERT INTO documents VALUES (1)", "only SELECT"},
		{"PRAGMA table_info(documents)", "only SELECT"},
		{"SELECT 1; DROP TABLE documents", "multiple"},
		{"SELECT * FROM documents WHERE id IN (DELETE FROM x)", "forbidden"},
	}
	for _, tt := range invalid {
		err := ValidateReadOnlyQuery(tt.query)
		require.Error(t, err, tt.query)
		assert.Contains(t, err.Error(), tt.want, tt.query)
	}
}

func TestExtractSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", extractSQL("SELECT 1"))
	assert.Equal(t, "SELECT 1", extractSQL("```sql\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 2", extractSQL("Here you go:\n```\nSELECT 2\n```\nEnjoy."))
	assert.Equal(t, "SELECT 3", extractSQL("```SQL\nSELECT 3```"))
}

func TestFormatRows(t *testing.T) {
	assert.Equal(t, "The query returned no rows.", formatRows(nil))

	single := formatRows([]map[string]string{{"count": "42"}})
	assert.Contains(t, single, "1 row")
	assert.Contains(t, single, "count")
	assert.Contains(t, single, "42")

	many := make([]map[string]string, 25)
	for i := range many {
		many[i] = map[string]string{"n": strconv.Itoa(i)}
	}
	out := formatRows(many)
	assert.Contains(t, out, "25 rows")
	assert.Contains(t, out, "... and 5 more rows")
}

func TestNewLLMTagValidation(t *testing.T) {
	completer := newFakeCompleter()

	_, err := NewLLMTag(completer, nil, nil, "schema")
	require.Error(t, err)

	_, err = NewLLMTag(completer, nil, &fakeQuerier{}, "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLLMTagAnswer(t *testing.T) {
	completer := newFakeCompleter()
	completer.set(markSQL, "```sql\nSELECT name, total FROM usage\n```")
	querier := &fakeQuerier{rows: []map[string]string{{"name": "api", "total": "42"}}}

	tag, err := NewLLMTag(completer, prompts.New(), querier, "usage(name TEXT, total INTEGER)")
	require.NoError(t, err)

	result, err := tag.Answer(context.Background(), "What is the total API usage?", "kb-1")
	require.NoError(t, err)

	assert.Equal(t, "SELECT name, total FROM usage", result.SQL)
	assert.Equal(t, result.SQL, querier.got)
	assert.Contains(t, result.Answer, "1 row")
	assert.Contains(t, result.Answer, "api")
	require.Len(t, result.Results, 1)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, model.ServiceTAG, result.Sources[0].Service)
	assert.Equal(t, result.SQL, result.Sources[0].Content)
}

func TestLLMTagRejectsGeneratedWrite(t *testing.T) {
	completer := newFakeCompleter()
	completer.set(markSQL, "DROP TABLE usage;")
	querier := &fakeQuerier{}

	tag, err := NewLLMTag(completer, prompts.New(), querier, "usage(name TEXT)")
	require.NoError(t, err)

	_, err = tag.Answer(context.Background(), "Remove the usage table", "kb-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, 0, querier.calls)
}

func TestDBQuerier(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO items (id, name) VALUES (1, 'alpha'), (2, NULL)`)
	require.NoError(t, err)

	rows, err := NewDBQuerier(db).QueryRows(context.Background(), "SELECT id, name FROM items ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"id": "1", "name": "alpha"}, rows[0])
	assert.Equal(t, map[string]string{"id": "2", "name": ""}, rows[1])
}

// ============================================================================
// MESSAGE FLOW
// ============================================================================

func TestPostMessageCreatesPlaceholderAndTask(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	ctx := context.Background()

	assistant, err := tr.router.PostMessage(ctx, tr.conv.ID, "What is the refund window?")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, assistant.Role)
	assert.Equal(t, model.MessageReceived, assistant.Status)

	msgs, err := tr.store.ListMessages(ctx, tr.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	var user *model.Message
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			user = m
		}
	}
	require.NotNil(t, user)
	assert.Equal(t, model.MessageProcessed, user.Status)
	assert.Equal(t, "What is the refund window?", user.Content)

	tasks, err := tr.queue.ListTasks(ctx, jobs.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, jobs.TaskAnswerMessage, tasks[0].Name)
	assert.Equal(t, assistant.ID, tasks[0].Args["message_id"])
	assert.Equal(t, tr.kb.ID, tasks[0].Args["knowledge_base_id"])
}

func TestPostMessageValidation(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	ctx := context.Background()

	_, err := tr.router.PostMessage(ctx, tr.conv.ID, "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = tr.router.PostMessage(ctx, "missing-conversation", "hello")
	require.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestHandleAnswerMessage(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedCuratedHit(0.9)
	tr.completer.set(markRefine, "Refunds are accepted for 30 days after purchase.")
	ctx := context.Background()

	assistant, err := tr.router.PostMessage(ctx, tr.conv.ID, "What is the refund window?")
	require.NoError(t, err)

	tasks, err := tr.queue.ListTasks(ctx, jobs.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, tr.router.handleAnswerMessage(ctx, tasks[0]))

	msg, err := tr.store.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageProcessed, msg.Status)
	assert.Equal(t, "Refunds are accepted for 30 days after purchase.", msg.Content)
	require.Len(t, msg.Sources, 1)
	assert.Equal(t, model.ServiceQuestions, msg.Sources[0].Service)

	routing, ok := msg.Metadata["routing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "questions", routing["service"])
	assert.NotContains(t, msg.Metadata, "error")
}

func TestHandleAnswerMessageDegradedFailure(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.embedder.setFail(true)
	ctx := context.Background()

	assistant := &model.Message{ConversationID: tr.conv.ID, Role: model.RoleAssistant}
	require.NoError(t, tr.store.CreateMessage(ctx, assistant))

	task := answerTask(assistant.ID, tr.kb.ID, "Explain the outage", 1)
	require.NoError(t, tr.router.handleAnswerMessage(ctx, task))

	// Pipeline failures still produce a readable PROCESSED answer; only
	// storage failures can mark the message FAILED.
	msg, err := tr.store.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageProcessed, msg.Status)
	assert.Contains(t, msg.Content, "error")
	assert.Empty(t, msg.Sources)

	routing, ok := msg.Metadata["routing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unknown", routing["service"])
	assert.Equal(t, true, routing["fallback"])
	errText, ok := msg.Metadata["error"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, errText)
}

func TestHandleAnswerMessageNotFoundIsTerminal(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)

	task := answerTask("missing-message", tr.kb.ID, "hello", 1)
	err := tr.router.handleAnswerMessage(context.Background(), task)
	require.Error(t, err)
	assert.False(t, jobs.IsRetryable(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestHandleAnswerMessageSkipsCompleted(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	ctx := context.Background()

	assistant := &model.Message{ConversationID: tr.conv.ID, Role: model.RoleAssistant}
	require.NoError(t, tr.store.CreateMessage(ctx, assistant))
	require.NoError(t, tr.store.UpdateMessageStatus(ctx, assistant.ID, model.MessageReceived, model.MessageProcessing))
	require.NoError(t, tr.store.CompleteMessage(ctx, assistant.ID, "already answered", nil, nil))

	task := answerTask(assistant.ID, tr.kb.ID, "hello", 1)
	require.NoError(t, tr.router.handleAnswerMessage(ctx, task))

	msg, err := tr.store.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, "already answered", msg.Content)
	assert.Empty(t, tr.provider.queried())
}

func TestHandleAnswerMessageResumesAfterRetry(t *testing.T) {
	tr := newTestRouter(t, config.QueryConfig{}, nil)
	tr.seedCuratedHit(0.9)
	tr.completer.set(markRefine, "Refunds are accepted for 30 days after purchase.")
	ctx := context.Background()

	assistant := &model.Message{ConversationID: tr.conv.ID, Role: model.RoleAssistant}
	require.NoError(t, tr.store.CreateMessage(ctx, assistant))
	require.NoError(t, tr.store.UpdateMessageStatus(ctx, assistant.ID, model.MessageReceived, model.MessageProcessing))

	task := answerTask(assistant.ID, tr.kb.ID, "What is the refund window?", 2)
	require.NoError(t, tr.router.handleAnswerMessage(ctx, task))

	msg, err := tr.store.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageProcessed, msg.Status)
	assert.NotEmpty(t, msg.Content)
}

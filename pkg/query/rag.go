package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/reranking"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// RAG RETRIEVER
// ============================================================================

// noResultsAnswer is returned verbatim when every retrieval strategy
// came back empty. It is deliberately not generated.
const noResultsAnswer = "I could not find relevant information in the knowledge base to answer this question."

// RagRetriever answers a query from document chunks: it narrows the
// search to promising documents, retrieves with progressively broader
// strategies, and synthesizes a cited answer from the best chunks.
type RagRetriever struct {
	cfg       config.QueryConfig
	store     *metastore.Store
	index     *vectorindex.Index
	embedder  embedders.Embedder
	completer Completer
	registry  *prompts.Registry
	reranker  reranking.Reranker
}

// NewRagRetriever builds a retriever. It shares Deps with NewRouter so
// both can be built from one wiring site.
func NewRagRetriever(cfg config.QueryConfig, deps Deps) (*RagRetriever, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query config: %w", err)
	}
	if deps.Store == nil || deps.Index == nil || deps.Embedder == nil || deps.Completer == nil {
		return nil, fmt.Errorf("rag retriever requires a store, an index, an embedder, and a completer")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.New()
	}
	return &RagRetriever{
		cfg:       cfg,
		store:     deps.Store,
		index:     deps.Index,
		embedder:  deps.Embedder,
		completer: deps.Completer,
		registry:  deps.Prompts,
		reranker:  deps.Reranker,
	}, nil
}

// Retrieve runs the full retrieval pipeline for one query. The
// strategies escalate: filtered search, unfiltered search, sub-question
// decomposition, query variations. Only when all of them come back
// empty does the fixed no-results answer go out.
func (r *RagRetriever) Retrieve(ctx context.Context, query, knowledgeBaseID string, opts Options) (*model.QueryResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	docIDs, docContext := r.preselectDocuments(ctx, query, knowledgeBaseID)

	baseFilter := vectorindex.Filter{}
	for k, v := range opts.Filter {
		baseFilter[k] = v
	}
	filter := baseFilter
	if len(docIDs) > 0 {
		filter = vectorindex.Filter{model.MetaDocumentID: docIDs}
		for k, v := range baseFilter {
			filter[k] = v
		}
	}

	matches, err := r.search(ctx, knowledgeBaseID, vector, opts.TopK, filter, opts.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 && len(docIDs) > 0 {
		slog.Debug("Preselection filter excluded every match, retrying unfiltered")
		matches, err = r.search(ctx, knowledgeBaseID, vector, opts.TopK, baseFilter, opts.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
	}
	if len(matches) == 0 && *r.cfg.DecompositionEnabled {
		matches = r.searchSubQuestions(ctx, query, knowledgeBaseID, docContext, opts, baseFilter)
	}
	if len(matches) == 0 {
		matches = r.searchVariations(ctx, query, knowledgeBaseID, opts, baseFilter)
	}
	if len(matches) == 0 {
		return &model.QueryResult{
			Answer:  noResultsAnswer,
			Service: model.ServiceRAG,
			Sources: []model.Source{},
		}, nil
	}

	intent := r.classifyIntent(ctx, query)

	candidates := matchesToCandidates(matches)
	if r.reranker != nil {
		reranked, err := r.reranker.Rerank(ctx, query, candidates, len(candidates))
		if err != nil {
			slog.Warn("Reranking failed, keeping retrieval order", "error", err)
		} else {
			candidates = reranked
		}
	}
	if *r.cfg.BoostsEnabled {
		applyBoosts(candidates, query, intent)
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	}
	if len(candidates) > r.cfg.ContextChunks {
		candidates = candidates[:r.cfg.ContextChunks]
	}

	answer, err := r.synthesize(ctx, query, buildContext(candidates), intent)
	if err != nil {
		return nil, err
	}

	return &model.QueryResult{
		Answer:      answer,
		Service:     model.ServiceRAG,
		Sources:     sourcesFromCandidates(candidates),
		RoutingInfo: model.RoutingInfo{Intent: string(intent)},
	}, nil
}

// ============================================================================
// DOCUMENT PRESELECTION
// ============================================================================

// preselectDocuments narrows retrieval to documents whose summaries look
// relevant to the query. Any failure here degrades to searching the
// whole knowledge base. The rendered summary block is returned too, for
// reuse by sub-question decomposition.
func (r *RagRetriever) preselectDocuments(ctx context.Context, query, knowledgeBaseID string) ([]string, string) {
	summaries, err := r.store.ListDocumentSummaries(ctx, knowledgeBaseID, r.cfg.PreselectionLimit)
	if err != nil {
		slog.Warn("Document preselection skipped", "error", err)
		return nil, ""
	}
	if len(summaries) == 0 {
		return nil, ""
	}

	var b strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&b, "doc_%d: %s - %s\n", i+1, s.Title, capRunes(s.Summary, r.cfg.PreselectionSnippetChars))
	}
	docContext := b.String()

	prompt := r.registry.Render(prompts.DomainRag, prompts.RagPreselect, map[string]string{
		"query":     query,
		"documents": docContext,
	})
	raw, err := r.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		slog.Warn("Document preselection failed", "error", err)
		return nil, docContext
	}

	indexes := parsePreselection(raw, len(summaries))
	ids := make([]string, 0, len(indexes))
	for _, n := range indexes {
		ids = append(ids, summaries[n-1].ID)
	}
	if len(ids) > 0 {
		slog.Debug("Preselected documents for retrieval", "count", len(ids))
	}
	return ids, docContext
}

// parsePreselection pulls 1-based document indexes out of a
// RELEVANT_DOCUMENTS reply. Both the doc_3 and bare 3 forms appear in
// practice; out-of-range and duplicate entries are dropped.
func parsePreselection(raw string, count int) []int {
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, "RELEVANT_DOCUMENTS:")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len("RELEVANT_DOCUMENTS:"):])
		if strings.EqualFold(rest, "NONE") {
			return nil
		}

		var out []int
		seen := make(map[int]bool)
		for _, tok := range strings.Split(rest, ",") {
			tok = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tok)), "doc_")
			n, err := strconv.Atoi(tok)
			if err != nil || n < 1 || n > count || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
		return out
	}
	return nil
}

// ============================================================================
// RETRIEVAL STRATEGIES
// ============================================================================

// search queries the chunk namespace and applies the similarity
// threshold.
func (r *RagRetriever) search(ctx context.Context, knowledgeBaseID string, vector []float32, topK int, filter vectorindex.Filter, threshold float64) ([]vectorindex.Match, error) {
	matches, err := r.index.Query(ctx, model.ChunkNamespace(knowledgeBaseID), vector, topK, filter, true)
	if err != nil {
		return nil, fmt.Errorf("chunk retrieval failed: %w", err)
	}
	if threshold <= 0 {
		return matches, nil
	}
	kept := matches[:0]
	for _, m := range matches {
		if float64(m.Score) >= threshold {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// searchSubQuestions decomposes a query that retrieved nothing directly.
// Each sub-question gets an equal share of the chunk budget and the
// results are merged by best score per chunk.
func (r *RagRetriever) searchSubQuestions(ctx context.Context, query, knowledgeBaseID, docContext string, opts Options, filter vectorindex.Filter) []vectorindex.Match {
	prompt := r.registry.Render(prompts.DomainRag, prompts.RagSubQuestions, map[string]string{
		"query":     query,
		"documents": docContext,
	})
	raw, err := r.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		slog.Warn("Sub-question decomposition failed", "error", err)
		return nil
	}
	subs := parseSubQuestions(raw)
	if len(subs) == 0 {
		return nil
	}
	slog.Debug("Retrying retrieval with sub-questions", "count", len(subs))

	perSub := max(1, opts.TopK/len(subs))
	return r.searchMany(ctx, knowledgeBaseID, subs, perSub, opts, filter)
}

// parseSubQuestions reads SUBQUESTION lines, dropping the rationale the
// prompt asks for after the pipe.
func parseSubQuestions(raw string) []string {
	var subs []string
	for _, line := range strings.Split(raw, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "SUBQUESTION:")
		if !ok {
			continue
		}
		q, _, _ := strings.Cut(rest, "|")
		if q = strings.TrimSpace(q); q != "" {
			subs = append(subs, q)
		}
		if len(subs) == 3 {
			break
		}
	}
	return subs
}

// searchVariations rephrases the query several ways and retrieves with
// each. This is the last strategy before giving up.
func (r *RagRetriever) searchVariations(ctx context.Context, query, knowledgeBaseID string, opts Options, filter vectorindex.Filter) []vectorindex.Match {
	prompt := r.registry.Render(prompts.DomainRag, prompts.RagVariations, map[string]string{"query": query})
	raw, err := r.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		slog.Warn("Query variation generation failed", "error", err)
		return nil
	}
	variations := parseVariations(raw, query)
	if len(variations) == 0 {
		return nil
	}
	slog.Debug("Retrying retrieval with query variations", "count", len(variations))
	return r.searchMany(ctx, knowledgeBaseID, variations, opts.TopK, opts, filter)
}

// parseVariations reads one rephrasing per line, tolerating the list
// numbering and quoting models add despite instructions.
func parseVariations(raw, original string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-* ")
		line = trimListNumber(line)
		line = strings.TrimSpace(strings.Trim(line, `"`))
		if line == "" || strings.EqualFold(line, original) {
			continue
		}
		out = append(out, line)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func trimListNumber(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// searchMany embeds and retrieves each query concurrently and merges
// the results by chunk id, keeping the best score per chunk. Failed
// queries are logged and the successes still count.
func (r *RagRetriever) searchMany(ctx context.Context, knowledgeBaseID string, queries []string, topK int, opts Options, filter vectorindex.Filter) []vectorindex.Match {
	var (
		mu   sync.Mutex
		all  []vectorindex.Match
		seen = make(map[string]int)
	)

	var g errgroup.Group
	for _, q := range queries {
		g.Go(func() error {
			vector, err := r.embedder.Embed(ctx, q)
			if err != nil {
				return fmt.Errorf("failed to embed %q: %w", q, err)
			}
			matches, err := r.search(ctx, knowledgeBaseID, vector, topK, filter, opts.SimilarityThreshold)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, m := range matches {
				if i, ok := seen[m.ID]; ok {
					if m.Score > all[i].Score {
						all[i] = m
					}
					continue
				}
				seen[m.ID] = len(all)
				all = append(all, m)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("Expanded retrieval partially failed", "error", err)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > opts.TopK {
		all = all[:opts.TopK]
	}
	return all
}

// ============================================================================
// SYNTHESIS
// ============================================================================

func matchesToCandidates(matches []vectorindex.Match) []reranking.Candidate {
	candidates := make([]reranking.Candidate, 0, len(matches))
	for _, m := range matches {
		content := m.Content
		if content == "" {
			content = m.Metadata[model.MetaContent]
		}
		candidates = append(candidates, reranking.Candidate{
			ID:            m.ID,
			Content:       content,
			Score:         float64(m.Score),
			OriginalScore: float64(m.Score),
			Metadata:      m.Metadata,
		})
	}
	return candidates
}

// buildContext renders the numbered source block the synthesis prompt
// cites from.
func buildContext(candidates []reranking.Candidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[Source %d] %s", i+1, c.Metadata[model.MetaDocTitle])
		if section := c.Metadata[model.MetaSection]; section != "" {
			fmt.Fprintf(&b, " / %s", section)
		}
		fmt.Fprintf(&b, " (score %.2f)\n%s\n\n", c.Score, c.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *RagRetriever) synthesize(ctx context.Context, query, contextBlock string, intent Intent) (string, error) {
	prompt := r.registry.Render(prompts.DomainRag, prompts.RagSynthesis, map[string]string{
		"query":    query,
		"context":  contextBlock,
		"guidance": r.guidance(intent),
	})
	answer, err := r.completer.CompleteText(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("answer synthesis failed: %w", err)
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return "", fmt.Errorf("answer synthesis returned no text")
	}
	return answer, nil
}

func sourcesFromCandidates(candidates []reranking.Candidate) []model.Source {
	sources := make([]model.Source, 0, len(candidates))
	for _, c := range candidates {
		chunkIndex, _ := strconv.Atoi(c.Metadata[model.MetaChunkIndex])
		sources = append(sources, model.Source{
			Service:       model.ServiceRAG,
			Score:         c.Score,
			OriginalScore: c.OriginalScore,
			Content:       c.Content,
			DocumentID:    c.Metadata[model.MetaDocumentID],
			Title:         c.Metadata[model.MetaDocTitle],
			ChunkIndex:    chunkIndex,
			Section:       c.Metadata[model.MetaSection],
		})
	}
	return sources
}

// capRunes truncates s to at most max runes.
func capRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

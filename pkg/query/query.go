// Package query answers user questions against a knowledge base. A
// router probes curated answers first, then classifies between SQL
// answering and document retrieval, dispatches, and degrades every
// failure into an answer the user can still read.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/embedders"
	"github.com/docbrain-ai/docbrain/pkg/jobs"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/observability"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
	"github.com/docbrain-ai/docbrain/pkg/reranking"
	"github.com/docbrain-ai/docbrain/pkg/vectorindex"
)

// ============================================================================
// ROUTER
// ============================================================================

// Completer is the slice of the LLM layer this package uses: the default
// model for user-facing synthesis, the router model for classification
// and query rewriting.
type Completer interface {
	CompleteText(ctx context.Context, system, user string) (string, error)
	RouterCompleteText(ctx context.Context, system, user string) (string, error)
}

// Router turns one user query into an answer with sources and routing
// metadata.
type Router struct {
	cfg       config.QueryConfig
	store     *metastore.Store
	index     *vectorindex.Index
	embedder  embedders.Embedder
	completer Completer
	registry  *prompts.Registry
	tag       Tag
	rag       *RagRetriever
	queue     *jobs.Queue
}

// Deps carries the collaborators a Router needs. Reranker, Tag, and
// Queue are optional; without a queue only synchronous answering works.
type Deps struct {
	Store     *metastore.Store
	Index     *vectorindex.Index
	Embedder  embedders.Embedder
	Completer Completer
	Prompts   *prompts.Registry
	Reranker  reranking.Reranker
	Tag       Tag
	Queue     *jobs.Queue
}

// NewRouter validates the configuration and builds the router with its
// retriever.
func NewRouter(cfg config.QueryConfig, deps Deps) (*Router, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query config: %w", err)
	}
	if deps.Store == nil || deps.Index == nil || deps.Embedder == nil || deps.Completer == nil {
		return nil, fmt.Errorf("query router requires a store, an index, an embedder, and a completer")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.New()
	}

	rag, err := NewRagRetriever(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		store:     deps.Store,
		index:     deps.Index,
		embedder:  deps.Embedder,
		completer: deps.Completer,
		registry:  deps.Prompts,
		tag:       deps.Tag,
		rag:       rag,
		queue:     deps.Queue,
	}, nil
}

// Options tune a single query. Zero values fall back to the configured
// defaults.
type Options struct {
	// TopK caps how many chunks retrieval returns.
	TopK int

	// SimilarityThreshold drops matches scoring below it.
	SimilarityThreshold float64

	// Service forces dispatch to one service, skipping classification.
	// The curated probe still runs first.
	Service model.Service

	// Filter is an extra metadata filter applied to chunk retrieval.
	Filter map[string]any
}

func (r *Router) withDefaults(opts Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = r.cfg.TopK
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = r.cfg.SimilarityThreshold
	}
	return opts
}

// Answer runs the full routing pipeline. It never fails: routing,
// retrieval, and synthesis errors come back as an explanatory answer
// with empty sources and fallback routing info.
func (r *Router) Answer(ctx context.Context, query, knowledgeBaseID string, opts Options) *model.QueryResult {
	start := time.Now()
	opts = r.withDefaults(opts)

	result, err := r.answer(ctx, query, knowledgeBaseID, opts)
	if err != nil {
		slog.Error("Query answering failed", "knowledge_base_id", knowledgeBaseID, "error", err)
		result = errorResult(err)
	}
	observability.GetGlobalMetrics().RecordQuery(ctx, string(result.Service), time.Since(start), err)
	return result
}

func (r *Router) answer(ctx context.Context, query, knowledgeBaseID string, opts Options) (*model.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	if hit, err := r.curatedProbe(ctx, query, knowledgeBaseID); err != nil {
		slog.Warn("Curated answer probe failed, continuing to routing", "error", err)
	} else if hit != nil {
		return hit, nil
	}

	d := r.classify(ctx, query, opts)
	slog.Debug("Query routed",
		"service", d.service,
		"confidence", d.confidence,
		"fallback", d.fallback,
	)

	var result *model.QueryResult
	switch d.service {
	case model.ServiceTAG:
		if r.tag == nil {
			return nil, fmt.Errorf("tag service is not configured")
		}
		tagResult, err := r.tag.Answer(ctx, query, knowledgeBaseID)
		if err != nil {
			return nil, fmt.Errorf("tag answering failed: %w", err)
		}
		result = &model.QueryResult{
			Answer:  tagResult.Answer,
			Service: model.ServiceTAG,
			Sources: tagResult.Sources,
		}
	default:
		var err error
		result, err = r.rag.Retrieve(ctx, query, knowledgeBaseID, opts)
		if err != nil {
			return nil, err
		}
	}

	result.RoutingInfo.Service = d.service
	result.RoutingInfo.Confidence = d.confidence
	result.RoutingInfo.Reasoning = d.reasoning
	result.RoutingInfo.Fallback = result.RoutingInfo.Fallback || d.fallback
	if result.Sources == nil {
		result.Sources = []model.Source{}
	}
	return result, nil
}

// errorResult is the degraded answer for failures the pipeline could
// not absorb earlier.
func errorResult(err error) *model.QueryResult {
	return &model.QueryResult{
		Answer:  fmt.Sprintf("I ran into an error while answering this question: %v. Please try again or rephrase.", err),
		Service: model.ServiceUnknown,
		Sources: []model.Source{},
		RoutingInfo: model.RoutingInfo{
			Service:   model.ServiceUnknown,
			Fallback:  true,
			Reasoning: err.Error(),
		},
	}
}

// ============================================================================
// CURATED-ANSWER PROBE
// ============================================================================

// curatedProbe checks the curated question index for a near-exact match
// before any routing happens. A hit above the threshold answers the
// query outright with the stored answer refined to the user's phrasing.
func (r *Router) curatedProbe(ctx context.Context, query, knowledgeBaseID string) (*model.QueryResult, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Query(ctx, model.QuestionNamespace(knowledgeBaseID), vector, 1, nil, true)
	if err != nil {
		return nil, fmt.Errorf("curated probe failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	match := matches[0]
	if float64(match.Score) < r.cfg.CuratedScoreThreshold {
		return nil, nil
	}

	question := match.Metadata[model.MetaQuestion]
	answer := match.Metadata[model.MetaAnswer]

	refined := r.refineCuratedAnswer(ctx, query, question, answer)

	return &model.QueryResult{
		Answer:  refined,
		Service: model.ServiceQuestions,
		Sources: []model.Source{{
			Service:    model.ServiceQuestions,
			Score:      float64(match.Score),
			Content:    answer,
			QuestionID: match.Metadata[model.MetaQuestionID],
			Question:   question,
			Answer:     answer,
			AnswerType: match.Metadata[model.MetaAnswerType],
		}},
		RoutingInfo: model.RoutingInfo{
			Service:    model.ServiceQuestions,
			Confidence: float64(match.Score),
			Reasoning:  "curated answer matched above threshold",
		},
	}, nil
}

// refineCuratedAnswer rewrites the stored answer to the user's phrasing.
// The stored answer is already correct, so an LLM failure just returns
// it verbatim.
func (r *Router) refineCuratedAnswer(ctx context.Context, query, question, answer string) string {
	prompt := r.registry.Render(prompts.DomainRouter, prompts.RouterRefine, map[string]string{
		"query":    query,
		"question": question,
		"answer":   answer,
	})
	refined, err := r.completer.CompleteText(ctx, "", prompt)
	if err != nil || strings.TrimSpace(refined) == "" {
		if err != nil {
			slog.Warn("Curated answer refinement failed, returning stored answer", "error", err)
		}
		return answer
	}
	return refined
}

// ============================================================================
// SERVICE CLASSIFICATION
// ============================================================================

type routeDecision struct {
	service    model.Service
	confidence float64
	reasoning  string
	fallback   bool
}

// classify picks tag or rag for a query. Retrieval is the default on
// every failure; tag additionally needs high confidence because a wrong
// SQL dispatch produces a confidently empty answer.
func (r *Router) classify(ctx context.Context, query string, opts Options) routeDecision {
	if opts.Service == model.ServiceRAG || opts.Service == model.ServiceTAG {
		return routeDecision{service: opts.Service, confidence: 1, reasoning: "service forced by caller"}
	}
	if !r.cfg.TagEnabled || r.tag == nil {
		return routeDecision{service: model.ServiceRAG, confidence: 1, reasoning: "retrieval is the only enabled service"}
	}

	prompt := r.registry.Render(prompts.DomainRouter, prompts.RouterClassify, map[string]string{"query": query})
	raw, err := r.completer.RouterCompleteText(ctx, "", prompt)
	if err != nil {
		return routeDecision{
			service:   model.ServiceRAG,
			reasoning: "service classification failed: " + err.Error(),
			fallback:  true,
		}
	}

	d, err := parseRouterDecision(raw)
	if err != nil {
		slog.Warn("Unparseable router reply, defaulting to retrieval", "error", err)
		return routeDecision{
			service:   model.ServiceRAG,
			reasoning: "unparseable service classification",
			fallback:  true,
		}
	}

	if d.service == model.ServiceTAG && d.confidence < r.cfg.TagConfidenceThreshold {
		d.reasoning = fmt.Sprintf("tag confidence %.2f below threshold: %s", d.confidence, d.reasoning)
		d.service = model.ServiceRAG
		d.fallback = true
	}
	return d
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// parseRouterDecision decodes the classification reply. Models wrap the
// JSON in prose or emit trailing commas often enough that both are
// handled here.
func parseRouterDecision(raw string) (routeDecision, error) {
	obj := extractJSONObject(raw)
	if obj == "" {
		return routeDecision{}, fmt.Errorf("no JSON object in router reply")
	}
	obj = trailingCommaPattern.ReplaceAllString(obj, "$1")

	var reply struct {
		Service    string  `json:"service"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return routeDecision{}, fmt.Errorf("malformed router reply: %w", err)
	}

	d := routeDecision{reasoning: reply.Reasoning}
	switch strings.ToLower(strings.TrimSpace(reply.Service)) {
	case "tag":
		d.service = model.ServiceTAG
	case "rag":
		d.service = model.ServiceRAG
	default:
		return routeDecision{}, fmt.Errorf("unknown service %q in router reply", reply.Service)
	}
	d.confidence = min(max(reply.Confidence, 0), 1)
	return d, nil
}

// extractJSONObject returns the first balanced {...} block, respecting
// string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

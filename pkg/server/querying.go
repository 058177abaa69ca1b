package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/query"
)

type queryRequest struct {
	Query               string         `json:"query"`
	TopK                int            `json:"top_k,omitempty"`
	SimilarityThreshold float64        `json:"similarity_threshold,omitempty"`
	Service             string         `json:"service,omitempty"`
	Filter              map[string]any `json:"filter,omitempty"`
}

// handleQuery answers synchronously, for tool integrations that cannot
// poll. The router degrades internal failures into a readable answer,
// so this endpoint returns 200 unless the request itself is bad.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k cannot be negative")
		return
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		writeError(w, http.StatusBadRequest, "similarity_threshold must be between 0 and 1")
		return
	}

	service := model.Service(req.Service)
	switch service {
	case "", model.ServiceRAG, model.ServiceTAG:
	default:
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid service %q (expected %s or %s)", req.Service, model.ServiceRAG, model.ServiceTAG))
		return
	}

	result := s.router.Answer(r.Context(), req.Query, kbID, query.Options{
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
		Service:             service,
		Filter:              req.Filter,
	})
	writeJSON(w, http.StatusOK, result)
}

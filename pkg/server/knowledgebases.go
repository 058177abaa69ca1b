package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docbrain-ai/docbrain/pkg/auth"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

type createKnowledgeBaseRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id,omitempty"`
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeBaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	// An authenticated user owns what they create unless the request
	// says otherwise.
	ownerID := req.OwnerID
	if ownerID == "" {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
			ownerID = claims.Subject
		}
	}

	kb := &model.KnowledgeBase{
		Name:    req.Name,
		OwnerID: ownerID,
	}
	if err := s.store.CreateKnowledgeBase(r.Context(), kb); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	kbs, err := s.store.ListKnowledgeBases(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"knowledge_bases": kbs,
		"total":           len(kbs),
	})
}

type knowledgeBaseResponse struct {
	*model.KnowledgeBase
	Stats *metastore.KnowledgeBaseStats `json:"stats,omitempty"`
}

func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "knowledgeBaseID")

	kb, err := s.store.GetKnowledgeBase(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Stats are best-effort decoration; the entity itself is the answer.
	stats, err := s.store.GetKnowledgeBaseStats(r.Context(), id)
	if err != nil {
		stats = nil
	}

	writeJSON(w, http.StatusOK, knowledgeBaseResponse{KnowledgeBase: kb, Stats: stats})
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "knowledgeBaseID")

	if _, err := s.store.GetKnowledgeBase(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.ingest.DeleteKnowledgeBase(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

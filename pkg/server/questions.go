package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docbrain-ai/docbrain/pkg/auth"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

type questionRequest struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	AnswerKind string `json:"answer_kind,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (q *questionRequest) validate() (model.AnswerKind, error) {
	if q.Question == "" {
		return "", fmt.Errorf("question is required")
	}
	if q.Answer == "" {
		return "", fmt.Errorf("answer is required")
	}
	switch kind := model.AnswerKind(q.AnswerKind); kind {
	case "", model.AnswerDirect:
		return model.AnswerDirect, nil
	case model.AnswerSQL:
		return kind, nil
	default:
		return "", fmt.Errorf("invalid answer_kind %q (expected %s or %s)",
			q.AnswerKind, model.AnswerDirect, model.AnswerSQL)
	}
}

// handleCreateQuestion creates a curated Q&A pair and enqueues its
// indexing. Replies 202: the row is visible to retrieval only after the
// worker embeds it.
func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	kind, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := req.UserID
	if userID == "" {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
			userID = claims.Subject
		}
	}

	question := &model.Question{
		KnowledgeBaseID: kbID,
		UserID:          userID,
		Question:        req.Question,
		Answer:          req.Answer,
		AnswerKind:      kind,
	}
	if err := s.ingest.CreateQuestion(r.Context(), question); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, question)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	questions, err := s.store.ListQuestions(r.Context(), kbID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": questions,
		"total":     len(questions),
	})
}

func (s *Server) getScopedQuestion(r *http.Request) (*model.Question, error) {
	question, err := s.store.GetQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		return nil, err
	}
	if question.KnowledgeBaseID != chi.URLParam(r, "knowledgeBaseID") {
		return nil, metastore.ErrNotFound
	}
	return question, nil
}

// handleGetQuestion returns one question, mostly for polling its
// indexing status after a create or update.
func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := s.getScopedQuestion(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

// handleUpdateQuestion rewrites a question's content. The row resets to
// PENDING and re-indexing replaces the old vector record.
func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := s.getScopedQuestion(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	kind, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ingest.UpdateQuestion(r.Context(), question.ID, req.Question, req.Answer, kind); err != nil {
		writeStoreError(w, err)
		return
	}

	updated, err := s.store.GetQuestion(r.Context(), question.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, updated)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := s.getScopedQuestion(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.ingest.DeleteQuestion(r.Context(), question.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

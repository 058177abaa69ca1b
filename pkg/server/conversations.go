package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docbrain-ai/docbrain/pkg/auth"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

type createConversationRequest struct {
	Title  string `json:"title,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	req := createConversationRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	userID := req.UserID
	if userID == "" {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
			userID = claims.Subject
		}
	}

	conv := &model.Conversation{
		KnowledgeBaseID: kbID,
		UserID:          userID,
		Title:           req.Title,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	convs, err := s.store.ListConversations(r.Context(), kbID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         len(convs),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// handlePostMessage records the user's message and returns the RECEIVED
// assistant placeholder. Clients poll GET /v1/messages/{id} until its
// status turns terminal.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	placeholder, err := s.router.PostMessage(r.Context(), chi.URLParam(r, "conversationID"), req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, placeholder)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

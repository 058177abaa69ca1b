package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/model"
)

// handleUploadDocument accepts a document as multipart/form-data (field
// "file", optional "title") or as a JSON body for text formats. The row
// is created PENDING and ingestion runs in the background, so the reply
// is 202 with the row to poll.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var (
		doc *model.Document
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		doc, err = s.documentFromMultipart(r, kbID)
	} else {
		doc, err = documentFromJSON(r, kbID)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", s.cfg.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if model.DetectType(doc.ContentType, doc.Title) == model.TypeUnknown {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported document type (content type %q, title %q)", doc.ContentType, doc.Title))
		return
	}

	if err := s.ingest.CreateDocument(r.Context(), doc); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) documentFromMultipart(r *http.Request, kbID string) (*model.Document, error) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("multipart field \"file\" is required")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, errors.New("uploaded file is empty")
	}

	// The filename stays in Title with its extension so type detection
	// keeps working; extraction replaces it with a display title later.
	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	if title == "" {
		return nil, errors.New("title or filename is required")
	}

	return &model.Document{
		KnowledgeBaseID: kbID,
		Title:           title,
		ContentType:     header.Header.Get("Content-Type"),
		Content:         content,
	}, nil
}

// uploadDocumentRequest is the JSON upload form, for text formats only.
// Binary formats go through multipart.
type uploadDocumentRequest struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

func documentFromJSON(r *http.Request, kbID string) (*model.Document, error) {
	var req uploadDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.Title == "" {
		return nil, errors.New("title is required")
	}
	if req.Content == "" {
		return nil, errors.New("content is required")
	}
	return &model.Document{
		KnowledgeBaseID: kbID,
		Title:           req.Title,
		ContentType:     req.ContentType,
		Content:         []byte(req.Content),
	}, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "knowledgeBaseID")
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeStoreError(w, err)
		return
	}

	opts := metastore.ListDocumentsOptions{
		Status: model.DocumentStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}

	docs, err := s.store.ListDocuments(r.Context(), kbID, opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// getScopedDocument loads a document and verifies it belongs to the
// knowledge base in the URL. A document reached through the wrong
// knowledge base reads as absent, not forbidden.
func (s *Server) getScopedDocument(r *http.Request) (*model.Document, error) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseID != chi.URLParam(r, "knowledgeBaseID") {
		return nil, metastore.ErrNotFound
	}
	return doc, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.getScopedDocument(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.getScopedDocument(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.ingest.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

const documentColumns = `id, knowledge_base_id, title, content_type, storage_path, status, chunk_count, summary, error_message, created_at, updated_at`

// CreateDocument inserts a new document in status PENDING.
func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = model.NewID()
	}
	if doc.KnowledgeBaseID == "" {
		return fmt.Errorf("knowledge_base_id is required")
	}
	if doc.Status == "" {
		doc.Status = model.DocumentPending
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
INSERT INTO documents (id, knowledge_base_id, title, content_type, content, storage_path, status, chunk_count, summary, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		doc.ID, doc.KnowledgeBaseID, doc.Title, doc.ContentType,
		doc.Content, doc.StoragePath, string(doc.Status), doc.ChunkCount,
		doc.Summary, doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument fetches one document without its content bytes.
func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// GetDocumentContent fetches the raw content bytes for one document.
func (s *Store) GetDocumentContent(ctx context.Context, id string) ([]byte, error) {
	query := `SELECT content FROM documents WHERE id = ?`

	var content []byte
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document content: %w", err)
	}
	return content, nil
}

// ListDocumentsOptions filters and pages ListDocuments.
type ListDocumentsOptions struct {
	// Status filters by status when non-empty.
	Status model.DocumentStatus

	// Limit caps the result set. 0 means no limit.
	Limit int

	// Offset skips rows for paging.
	Offset int
}

// ListDocuments returns documents for a knowledge base, newest first.
// Content bytes are not loaded.
func (s *Store) ListDocuments(ctx context.Context, kbID string, opts ListDocumentsOptions) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE knowledge_base_id = ?`
	args := []any{kbID}

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListDocumentIDs returns every document id in a knowledge base.
func (s *Store) ListDocumentIDs(ctx context.Context, kbID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id FROM documents WHERE knowledge_base_id = ?`), kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DocumentSummary is the preselection view of a processed document.
type DocumentSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ListDocumentSummaries returns summaries of processed documents for the
// preselection prompt, most recently updated first.
func (s *Store) ListDocumentSummaries(ctx context.Context, kbID string, limit int) ([]DocumentSummary, error) {
	query := `
SELECT id, title, summary
FROM documents
WHERE knowledge_base_id = ? AND status = ? AND summary IS NOT NULL AND summary != ''
ORDER BY updated_at DESC
`
	args := []any{kbID, string(model.DocumentProcessed)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list document summaries: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var ds DocumentSummary
		var summary sql.NullString
		if err := rows.Scan(&ds.ID, &ds.Title, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan document summary: %w", err)
		}
		ds.Summary = summary.String
		out = append(out, ds)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus transitions a document from one status to another.
// Returns ErrPreconditionFailed if the row is not in the from status, or if
// the transition is not legal for the state machine.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, from, to model.DocumentStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: document cannot move %s -> %s", ErrPreconditionFailed, from, to)
	}

	query := `UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	return s.guardedUpdate(ctx, query,
		[]any{string(to), time.Now().UTC(), id, string(from)},
		`SELECT 1 FROM documents WHERE id = ?`, id,
	)
}

// MarkDocumentProcessed records successful ingestion: chunk count, summary,
// and the terminal PROCESSED status. The row must be PROCESSING.
func (s *Store) MarkDocumentProcessed(ctx context.Context, id string, chunkCount int, summary string) error {
	query := `
UPDATE documents
SET status = ?, chunk_count = ?, summary = ?, error_message = '', updated_at = ?
WHERE id = ? AND status = ?
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.DocumentProcessed), chunkCount, summary, time.Now().UTC(), id, string(model.DocumentProcessing)},
		`SELECT 1 FROM documents WHERE id = ?`, id,
	)
}

// MarkDocumentFailed records a failure from any non-terminal status.
func (s *Store) MarkDocumentFailed(ctx context.Context, id string, errMsg string) error {
	query := `
UPDATE documents
SET status = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status IN (?, ?)
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.DocumentFailed), errMsg, time.Now().UTC(), id,
			string(model.DocumentPending), string(model.DocumentProcessing)},
		`SELECT 1 FROM documents WHERE id = ?`, id,
	)
}

// DeleteDocument removes one document row.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearDocumentContent drops the stored raw bytes once ingestion succeeded.
// Extracted chunks and the summary carry the searchable text from here on.
func (s *Store) ClearDocumentContent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE documents SET content = NULL WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to clear document content: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
	var doc model.Document
	var contentType, storagePath, summary, errMsg sql.NullString
	var status string

	err := row.Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.Title, &contentType,
		&storagePath, &status, &doc.ChunkCount, &summary, &errMsg,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ContentType = contentType.String
	doc.StoragePath = storagePath.String
	doc.Status = model.DocumentStatus(status)
	doc.Summary = summary.String
	doc.ErrorMessage = errMsg.String
	return &doc, nil
}

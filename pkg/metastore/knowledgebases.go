package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// CreateKnowledgeBase inserts a new knowledge base.
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error {
	if kb.ID == "" {
		kb.ID = model.NewID()
	}
	if kb.Name == "" {
		return fmt.Errorf("knowledge base name is required")
	}
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now().UTC()
	}

	query := `
INSERT INTO knowledge_bases (id, owner_id, name, created_at)
VALUES (?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		kb.ID, kb.OwnerID, kb.Name, kb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge base: %w", err)
	}
	return nil
}

// GetKnowledgeBase fetches one knowledge base by id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	query := `
SELECT id, owner_id, name, created_at
FROM knowledge_bases
WHERE id = ?
`
	var kb model.KnowledgeBase
	var ownerID sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&kb.ID, &ownerID, &kb.Name, &kb.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	kb.OwnerID = ownerID.String
	return &kb, nil
}

// ListKnowledgeBases returns all knowledge bases, newest first.
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]*model.KnowledgeBase, error) {
	query := `
SELECT id, owner_id, name, created_at
FROM knowledge_bases
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []*model.KnowledgeBase
	for rows.Next() {
		var kb model.KnowledgeBase
		var ownerID sql.NullString
		if err := rows.Scan(&kb.ID, &ownerID, &kb.Name, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kb.OwnerID = ownerID.String
		out = append(out, &kb)
	}
	return out, rows.Err()
}

// DeleteKnowledgeBase removes the knowledge base and every row under it in
// one transaction. Vector cleanup is the caller's job; fetch the document and
// question ids first.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE knowledge_base_id = ?)`,
		`DELETE FROM conversations WHERE knowledge_base_id = ?`,
		`DELETE FROM questions WHERE knowledge_base_id = ?`,
		`DELETE FROM documents WHERE knowledge_base_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return fmt.Errorf("failed to cascade delete: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM knowledge_bases WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// KnowledgeBaseStats summarizes row counts for one knowledge base.
type KnowledgeBaseStats struct {
	Documents     map[model.DocumentStatus]int `json:"documents"`
	Questions     map[model.QuestionStatus]int `json:"questions"`
	Conversations int                          `json:"conversations"`
}

// GetKnowledgeBaseStats counts documents and questions by status.
func (s *Store) GetKnowledgeBaseStats(ctx context.Context, id string) (*KnowledgeBaseStats, error) {
	if _, err := s.GetKnowledgeBase(ctx, id); err != nil {
		return nil, err
	}

	stats := &KnowledgeBaseStats{
		Documents: make(map[model.DocumentStatus]int),
		Questions: make(map[model.QuestionStatus]int),
	}

	docQuery := `SELECT status, COUNT(*) FROM documents WHERE knowledge_base_id = ? GROUP BY status`
	rows, err := s.db.QueryContext(ctx, s.rebind(docQuery), id)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan document count: %w", err)
		}
		stats.Documents[model.DocumentStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qQuery := `SELECT status, COUNT(*) FROM questions WHERE knowledge_base_id = ? GROUP BY status`
	qRows, err := s.db.QueryContext(ctx, s.rebind(qQuery), id)
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}
	defer qRows.Close()
	for qRows.Next() {
		var status string
		var count int
		if err := qRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan question count: %w", err)
		}
		stats.Questions[model.QuestionStatus(status)] = count
	}
	if err := qRows.Err(); err != nil {
		return nil, err
	}

	convQuery := `SELECT COUNT(*) FROM conversations WHERE knowledge_base_id = ?`
	if err := s.db.QueryRowContext(ctx, s.rebind(convQuery), id).Scan(&stats.Conversations); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	return stats, nil
}

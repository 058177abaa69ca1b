package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ============================================================================
// CONVERSATIONS
// ============================================================================

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	if c.KnowledgeBaseID == "" {
		return fmt.Errorf("knowledge_base_id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
INSERT INTO conversations (id, knowledge_base_id, user_id, title, created_at)
VALUES (?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.KnowledgeBaseID, c.UserID, c.Title, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	query := `
SELECT id, knowledge_base_id, user_id, title, created_at
FROM conversations
WHERE id = ?
`
	var c model.Conversation
	var userID, title sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&c.ID, &c.KnowledgeBaseID, &userID, &title, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	c.UserID = userID.String
	c.Title = title.String
	return &c, nil
}

// ListConversations returns conversations for a knowledge base, newest first.
func (s *Store) ListConversations(ctx context.Context, kbID string) ([]*model.Conversation, error) {
	query := `
SELECT id, knowledge_base_id, user_id, title, created_at
FROM conversations
WHERE knowledge_base_id = ?
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		var userID, title sql.NullString
		if err := rows.Scan(&c.ID, &c.KnowledgeBaseID, &userID, &title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.UserID = userID.String
		c.Title = title.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
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

// ============================================================================
// MESSAGES
// ============================================================================

const messageColumns = `id, conversation_id, role, status, content, sources, metadata, created_at, updated_at`

// CreateMessage inserts a message row. User messages default to PROCESSED;
// assistant placeholders default to RECEIVED and are filled by the answer
// task.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = model.NewID()
	}
	if m.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if m.Status == "" {
		if m.Role == model.RoleAssistant {
			m.Status = model.MessageReceived
		} else {
			m.Status = model.MessageProcessed
		}
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	sources, err := marshalJSON(m.Sources)
	if err != nil {
		return fmt.Errorf("failed to serialize sources: %w", err)
	}
	metadata, err := marshalJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
INSERT INTO messages (id, conversation_id, role, status, content, sources, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		m.ID, m.ConversationID, string(m.Role), string(m.Status),
		m.Content, sources, metadata, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	m, err := scanMessage(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus transitions a message from one status to another.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, from, to model.MessageStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: message cannot move %s -> %s", ErrPreconditionFailed, from, to)
	}

	query := `UPDATE messages SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	return s.guardedUpdate(ctx, query,
		[]any{string(to), time.Now().UTC(), id, string(from)},
		`SELECT 1 FROM messages WHERE id = ?`, id,
	)
}

// CompleteMessage writes the final answer, sources, and routing metadata.
// The row must be PROCESSING.
func (s *Store) CompleteMessage(ctx context.Context, id, content string, sources []model.Source, metadata map[string]any) error {
	sourcesJSON, err := marshalJSON(sources)
	if err != nil {
		return fmt.Errorf("failed to serialize sources: %w", err)
	}
	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
UPDATE messages
SET status = ?, content = ?, sources = ?, metadata = ?, updated_at = ?
WHERE id = ? AND status = ?
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.MessageProcessed), content, sourcesJSON, metadataJSON,
			time.Now().UTC(), id, string(model.MessageProcessing)},
		`SELECT 1 FROM messages WHERE id = ?`, id,
	)
}

// FailMessage records an answering failure from any non-terminal status. The
// error text lands in metadata so clients can surface it.
func (s *Store) FailMessage(ctx context.Context, id, errMsg string) error {
	metadataJSON, err := marshalJSON(map[string]any{"error": errMsg})
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
UPDATE messages
SET status = ?, metadata = ?, updated_at = ?
WHERE id = ? AND status IN (?, ?)
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.MessageFailed), metadataJSON, time.Now().UTC(), id,
			string(model.MessageReceived), string(model.MessageProcessing)},
		`SELECT 1 FROM messages WHERE id = ?`, id,
	)
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var role, status string
	var content, sources, metadata sql.NullString

	err := row.Scan(
		&m.ID, &m.ConversationID, &role, &status,
		&content, &sources, &metadata, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Role = model.MessageRole(role)
	m.Status = model.MessageStatus(status)
	m.Content = content.String

	if err := unmarshalJSON(sources.String, &m.Sources); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}
	if err := unmarshalJSON(metadata.String, &m.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &m, nil
}

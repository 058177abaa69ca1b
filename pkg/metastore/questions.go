package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

const questionColumns = `id, knowledge_base_id, user_id, question, answer, answer_kind, status, error_message, created_at, updated_at`

// CreateQuestion inserts a curated Q&A pair in status PENDING.
func (s *Store) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = model.NewID()
	}
	if q.KnowledgeBaseID == "" {
		return fmt.Errorf("knowledge_base_id is required")
	}
	if q.Question == "" {
		return fmt.Errorf("question text is required")
	}
	if q.AnswerKind == "" {
		q.AnswerKind = model.AnswerDirect
	}
	if q.Status == "" {
		q.Status = model.QuestionPending
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	query := `
INSERT INTO questions (id, knowledge_base_id, user_id, question, answer, answer_kind, status, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		q.ID, q.KnowledgeBaseID, q.UserID, q.Question, q.Answer,
		string(q.AnswerKind), string(q.Status), q.ErrorMessage,
		q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	return nil
}

// GetQuestion fetches one curated question by id.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = ?`

	q, err := scanQuestion(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query question: %w", err)
	}
	return q, nil
}

// ListQuestions returns curated questions for a knowledge base, newest first.
func (s *Store) ListQuestions(ctx context.Context, kbID string) ([]*model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE knowledge_base_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var out []*model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListQuestionIDs returns every question id in a knowledge base.
func (s *Store) ListQuestionIDs(ctx context.Context, kbID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id FROM questions WHERE knowledge_base_id = ?`), kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list question ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateQuestionStatus transitions a question from one status to another.
func (s *Store) UpdateQuestionStatus(ctx context.Context, id string, from, to model.QuestionStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: question cannot move %s -> %s", ErrPreconditionFailed, from, to)
	}

	query := `UPDATE questions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	return s.guardedUpdate(ctx, query,
		[]any{string(to), time.Now().UTC(), id, string(from)},
		`SELECT 1 FROM questions WHERE id = ?`, id,
	)
}

// UpdateQuestionContent replaces the Q&A text and resets the row to PENDING
// so re-ingestion replaces the old vector. Only terminal rows can be edited;
// a row mid-ingestion must finish first.
func (s *Store) UpdateQuestionContent(ctx context.Context, id, question, answer string, kind model.AnswerKind) error {
	if question == "" {
		return fmt.Errorf("question text is required")
	}
	if kind == "" {
		kind = model.AnswerDirect
	}

	query := `
UPDATE questions
SET question = ?, answer = ?, answer_kind = ?, status = ?, error_message = '', updated_at = ?
WHERE id = ? AND status IN (?, ?)
`
	return s.guardedUpdate(ctx, query,
		[]any{question, answer, string(kind), string(model.QuestionPending), time.Now().UTC(), id,
			string(model.QuestionCompleted), string(model.QuestionFailed)},
		`SELECT 1 FROM questions WHERE id = ?`, id,
	)
}

// MarkQuestionCompleted records successful ingestion. The row must be
// INGESTING.
func (s *Store) MarkQuestionCompleted(ctx context.Context, id string) error {
	query := `
UPDATE questions
SET status = ?, error_message = '', updated_at = ?
WHERE id = ? AND status = ?
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.QuestionCompleted), time.Now().UTC(), id, string(model.QuestionIngesting)},
		`SELECT 1 FROM questions WHERE id = ?`, id,
	)
}

// MarkQuestionFailed records a failure from any non-terminal status.
func (s *Store) MarkQuestionFailed(ctx context.Context, id string, errMsg string) error {
	query := `
UPDATE questions
SET status = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status IN (?, ?)
`
	return s.guardedUpdate(ctx, query,
		[]any{string(model.QuestionFailed), errMsg, time.Now().UTC(), id,
			string(model.QuestionPending), string(model.QuestionIngesting)},
		`SELECT 1 FROM questions WHERE id = ?`, id,
	)
}

// DeleteQuestion removes one question row.
func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM questions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
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

func scanQuestion(row scanner) (*model.Question, error) {
	var q model.Question
	var userID, errMsg sql.NullString
	var kind, status string

	err := row.Scan(
		&q.ID, &q.KnowledgeBaseID, &userID, &q.Question, &q.Answer,
		&kind, &status, &errMsg, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.UserID = userID.String
	q.AnswerKind = model.AnswerKind(kind)
	q.Status = model.QuestionStatus(status)
	q.ErrorMessage = errMsg.String
	return &q, nil
}

// Package jobs is DocBrain's durable background task queue.
//
// Tasks are rows in the same SQL database as the metadata store, so a server
// crash loses nothing: pending work is picked up on restart. Claiming uses a
// status-guarded UPDATE, which keeps multiple worker processes safe on one
// database. Failed tasks retry with exponential backoff and full jitter when
// the error is retryable; anything else fails permanently on first attempt.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Task names dispatched through the queue.
const (
	TaskIngestDocument       = "ingest_document"
	TaskIngestQuestion       = "ingest_question"
	TaskDeleteDocumentVector = "delete_document_vectors"
	TaskDeleteQuestionVector = "delete_question_vector"
	TaskAnswerMessage        = "answer_message"
)

// Status tracks a task through its lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Task is one queued unit of work.
type Task struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Args        map[string]any `json:"args,omitempty"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Error       string         `json:"error,omitempty"`
	RunAt       time.Time      `json:"run_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Handler executes one task. The context carries the advisory task timeout;
// long handlers should check it between phases.
type Handler func(ctx context.Context, task *Task) error

// ErrNoHandler means a task was claimed whose name has no registered handler.
var ErrNoHandler = errors.New("jobs: no handler registered")

// retryable is satisfied by errors that are worth retrying, including
// httpclient.RetryableError from provider calls.
type retryable interface {
	IsRetryable() bool
}

// RetryableError marks any error as retryable for the queue.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}

// Retryable wraps err so the queue schedules another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable walks the error chain looking for a retryable marker.
func IsRetryable(err error) bool {
	for err != nil {
		if r, ok := err.(retryable); ok {
			return r.IsRetryable()
		}
		err = errors.Unwrap(err)
	}
	return false
}

// DecodeArgs binds a task's argument map onto a typed struct.
func DecodeArgs(task *Task, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create args decoder: %w", err)
	}
	if err := decoder.Decode(task.Args); err != nil {
		return fmt.Errorf("failed to decode args for %s: %w", task.Name, err)
	}
	return nil
}

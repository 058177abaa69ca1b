package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports that a request failed after exhausting
// retries. RetryAfter carries the delay a caller-level retry (the job
// queue) should wait before the next attempt.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error for the job queue's retry allow-list.
func (e *RetryableError) IsRetryable() bool {
	return true
}

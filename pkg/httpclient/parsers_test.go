package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	headers.Set("x-ratelimit-remaining-requests", "99")
	headers.Set("x-ratelimit-remaining-tokens", "149000")
	headers.Set("x-ratelimit-reset-requests", "1700000000")

	info := ParseOpenAIHeaders(headers)

	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", info.RetryAfter)
	}
	if info.RequestsRemaining != 99 {
		t.Errorf("RequestsRemaining = %d, want 99", info.RequestsRemaining)
	}
	if info.TokensRemaining != 149000 {
		t.Errorf("TokensRemaining = %d, want 149000", info.TokensRemaining)
	}
	if info.ResetTime == 0 {
		t.Error("expected ResetTime to be parsed")
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)

	headers := http.Header{}
	headers.Set("retry-after", "12")
	headers.Set("anthropic-ratelimit-requests-remaining", "42")
	headers.Set("anthropic-ratelimit-input-tokens-remaining", "10000")
	headers.Set("anthropic-ratelimit-requests-reset", reset)

	info := ParseAnthropicHeaders(headers)

	if info.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", info.RetryAfter)
	}
	if info.RequestsRemaining != 42 {
		t.Errorf("RequestsRemaining = %d, want 42", info.RequestsRemaining)
	}
	if info.InputTokensRemaining != 10000 {
		t.Errorf("InputTokensRemaining = %d, want 10000", info.InputTokensRemaining)
	}
	if info.ResetTime == 0 {
		t.Error("expected ResetTime to be parsed from RFC3339 header")
	}
}

func TestParseHeaders_Empty(t *testing.T) {
	info := ParseOpenAIHeaders(http.Header{})
	if info.RetryAfter != 0 || info.ResetTime != 0 || info.RequestsRemaining != 0 {
		t.Errorf("expected zero info for empty headers, got %+v", info)
	}

	info = ParseCohereHeaders(http.Header{})
	if info.RetryAfter != 0 {
		t.Errorf("expected zero RetryAfter, got %v", info.RetryAfter)
	}
}

func TestRetryableError_Format(t *testing.T) {
	err := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 5 * time.Second}
	msg := err.Error()
	if msg != "HTTP 429: rate limited (retry after 5s)" {
		t.Errorf("unexpected message: %q", msg)
	}

	err = &RetryableError{StatusCode: 500, Message: "server error"}
	if err.Error() != "HTTP 500: server error" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	if !err.IsRetryable() {
		t.Error("RetryableError must report IsRetryable")
	}
}

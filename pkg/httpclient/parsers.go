package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

func parseRetryAfterSeconds(headers http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "retry-after"} {
		if v := headers.Get(key); v != "" {
			if seconds, err := strconv.Atoi(v); err == nil {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return 0
}

func parseIntHeader(headers http.Header, key string) int {
	if v := headers.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// ParseAnthropicHeaders extracts rate limit info from Anthropic API
// response headers. Reset headers are RFC3339 timestamps.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfterSeconds(headers)}

	for _, header := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
				info.ResetTime = resetTime.Unix()
				break
			}
		}
	}

	info.RequestsRemaining = parseIntHeader(headers, "anthropic-ratelimit-requests-remaining")
	info.InputTokensRemaining = parseIntHeader(headers, "anthropic-ratelimit-input-tokens-remaining")
	info.OutputTokensRemaining = parseIntHeader(headers, "anthropic-ratelimit-output-tokens-remaining")

	return info
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI-compatible
// response headers. Reset headers are unix timestamps.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfterSeconds(headers)}

	for _, header := range []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	} {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
				info.ResetTime = resetTime
				break
			}
		}
	}

	info.RequestsRemaining = parseIntHeader(headers, "x-ratelimit-remaining-requests")
	info.TokensRemaining = parseIntHeader(headers, "x-ratelimit-remaining-tokens")

	return info
}

// ParseCohereHeaders extracts rate limit info from the rerank API's
// response headers. Only Retry-After is published.
func ParseCohereHeaders(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: parseRetryAfterSeconds(headers)}
}

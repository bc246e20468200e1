package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError signals an upstream 429. RetryAfter is zero when the
// backend gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// UpstreamError is a 5xx (or otherwise unclassifiable) backend failure.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream api error (status %d): %s", e.StatusCode, e.Message)
}

// BadRequestError is a user or configuration mistake: missing API key,
// unsupported provider, malformed request.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// IsAborted reports whether err stems from cancellation rather than a
// transport or backend failure.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus converts a non-2xx HTTP response into the typed error the
// orchestration loop propagates to its caller.
func classifyStatus(status int, body string, header http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header)}
	case status >= 400 && status < 500:
		return &BadRequestError{Message: fmt.Sprintf("backend rejected request (status %d): %s", status, body)}
	default:
		return &UpstreamError{StatusCode: status, Message: body}
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

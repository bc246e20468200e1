// Package sources holds thin clients for the federal data APIs. Every
// client shares one HTTP core that handles retries with exponential
// backoff, 429 handling, response caching, and client-side rate limiting.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/observe"
)

// SourceItem is the normalized citation shape every client returns. The
// orchestration loop accumulates these and emits them with the final
// answer.
type SourceItem struct {
	SourceType  string         `json:"source_type"`
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Agency      string         `json:"agency,omitempty"`
	Date        string         `json:"date,omitempty"`
	URL         string         `json:"url"`
	Excerpt     string         `json:"excerpt,omitempty"`
	PDFURL      string         `json:"pdf_url,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Raw         map[string]any `json:"-"`
}

// RateLimitError signals that an upstream kept returning 429 after all
// retries were spent.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded, please try again later"
}

// APIError is any other upstream failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed (%d): %s", e.StatusCode, e.Message)
}

// Client is the shared HTTP core.
type Client struct {
	http           *http.Client
	cache          *gocache.Cache
	limiter        *rate.Limiter
	obs            *observe.Observer
	maxRetries     int
	initialBackoff time.Duration
}

func NewClient(cfg config.Settings, obs *observe.Observer) *Client {
	return &Client{
		http:           &http.Client{Timeout: 30 * time.Second},
		cache:          gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter:        rate.NewLimiter(rate.Limit(10), 20),
		obs:            obs,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
	}
}

type request struct {
	method   string
	url      string
	headers  map[string]string
	params   url.Values
	jsonBody any
	noCache  bool
}

func cacheKey(req request) string {
	keys := make([]string, 0, len(req.params))
	for k := range req.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(req.method)
	sb.WriteString(":")
	sb.WriteString(req.url)
	sb.WriteString("?")
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(req.params[k], ","))
		sb.WriteString("&")
	}
	return sb.String()
}

// do performs the request with retries and decodes the JSON body into out.
// GET responses are cached for the configured TTL.
func (c *Client) do(ctx context.Context, req request, out any) error {
	key := cacheKey(req)
	cacheable := req.method == http.MethodGet && !req.noCache
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			return json.Unmarshal(cached.([]byte), out)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	backoff := c.initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, status, retryAfter, err := c.once(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transport error or timeout: retry with backoff.
			lastErr = err
			if attempt < c.maxRetries {
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			break
		}

		switch {
		case status == http.StatusTooManyRequests:
			wait := backoff
			if retryAfter > 0 {
				wait = retryAfter
			}
			c.obs.Log().Warn().
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("Rate limited by upstream")
			if attempt < c.maxRetries {
				if err := sleep(ctx, wait); err != nil {
					return err
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			return &RateLimitError{RetryAfter: wait}

		case status == http.StatusRequestTimeout || status >= 500:
			lastErr = &APIError{StatusCode: status, Message: preview(body)}
			if attempt < c.maxRetries {
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			return lastErr

		case status >= 400:
			return &APIError{StatusCode: status, Message: preview(body)}
		}

		if cacheable {
			c.cache.Set(key, body, gocache.DefaultExpiration)
		}
		return json.Unmarshal(body, out)
	}

	return &APIError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("request failed after retries: %v", lastErr)}
}

func (c *Client) once(ctx context.Context, req request) (body []byte, status int, retryAfter time.Duration, err error) {
	target := req.url
	if len(req.params) > 0 {
		target += "?" + req.params.Encode()
	}

	var reader io.Reader
	if req.jsonBody != nil {
		encoded, err := json.Marshal(req.jsonBody)
		if err != nil {
			return nil, 0, 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return nil, 0, 0, err
	}
	if req.jsonBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return nil, 0, 0, err
	}
	return body, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// preview trims an error body to a loggable size; HTML error pages are
// replaced with a short note.
func preview(body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(strings.ToLower(text), "<!doctype") || strings.HasPrefix(text, "<html") {
		return "HTML error page returned (truncated)."
	}
	if len(text) > 800 {
		return text[:800]
	}
	return text
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// DateRange returns [now-days, now] formatted as YYYY-MM-DD.
func DateRange(days int) (string, string) {
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

func strField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func listField(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

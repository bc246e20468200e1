// Package fetch retrieves arbitrary government web pages for the model.
// It guards against SSRF, enforces a domain allowlist, converts HTML to
// readable text, and extracts plain text from PDF responses so they can
// be indexed into session memory.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	readability "github.com/go-shiori/go-readability"

	"github.com/policyradar/policyradar/internal/observe"
)

// Result is the fetch outcome. Failures are reported in Error rather
// than as a Go error: the model is expected to read and react to them.
type Result struct {
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
	Text          string `json:"text,omitempty"`
	Error         string `json:"error,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	ContentFormat string `json:"content_format,omitempty"` // html | text | pdf
	PDFURL        string `json:"pdf_url,omitempty"`
}

// Fetcher retrieves a URL and extracts its readable text.
type Fetcher interface {
	FetchURL(ctx context.Context, rawURL string, maxLength int) Result
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	client         *http.Client
	obs            *observe.Observer
	allowedDomains []string
	allowLocal     bool
	maxBytes       int64
	maxRetries     int
	initialBackoff time.Duration
}

type Options struct {
	AllowedDomains []string // doublestar patterns, e.g. "*.gov"
	AllowLocal     bool
	MaxBytes       int64
	MaxRetries     int
	InitialBackoff time.Duration
}

func New(obs *observe.Observer, opts Options) *HTTPFetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10_000_000
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		obs:            obs,
		allowedDomains: opts.AllowedDomains,
		allowLocal:     opts.AllowLocal,
		maxBytes:       opts.MaxBytes,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
	}
}

func (f *HTTPFetcher) FetchURL(ctx context.Context, rawURL string, maxLength int) Result {
	result := Result{URL: rawURL}

	normalized, err := f.normalizeURL(rawURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.URL = normalized.String()

	if err := f.validateHost(ctx, normalized.Hostname()); err != nil {
		result.Error = err.Error()
		return result
	}

	f.obs.Log().Info().Str("url", result.URL).Msg("Fetching URL content")

	backoff := f.initialBackoff
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		status, header, body, err := f.fetchOnce(ctx, result.URL)
		if err != nil {
			if ctx.Err() != nil {
				result.Error = "Request cancelled"
				return result
			}
			lastErr = err
			if attempt < f.maxRetries {
				if sleepErr := sleep(ctx, backoff); sleepErr != nil {
					result.Error = "Request cancelled"
					return result
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			break
		}

		switch {
		case status == http.StatusTooManyRequests:
			if attempt < f.maxRetries {
				wait := retryAfter(header)
				if wait == 0 {
					wait = backoff
				}
				if sleepErr := sleep(ctx, wait); sleepErr != nil {
					result.Error = "Request cancelled"
					return result
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			result.Error = "Rate limited (429). Please try again later."
			return result

		case status == http.StatusRequestTimeout || status >= 500:
			if attempt < f.maxRetries {
				if sleepErr := sleep(ctx, backoff); sleepErr != nil {
					result.Error = "Request cancelled"
					return result
				}
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			result.Error = fmt.Sprintf("HTTP %d", status)
			return result

		case status != http.StatusOK:
			result.Error = fmt.Sprintf("HTTP %d", status)
			return result
		}

		if body == nil {
			result.Error = fmt.Sprintf("Response too large (limit %d bytes).", f.maxBytes)
			return result
		}

		contentType := strings.ToLower(header.Get("Content-Type"))
		if isProbablyPDF(contentType, result.URL, body) {
			result.ContentType = firstNonEmpty(contentType, "application/pdf")
			result.ContentFormat = "pdf"
			result.PDFURL = result.URL
			text, err := extractPDFText(body)
			if err != nil {
				result.Error = "Could not extract text from PDF."
				return result
			}
			if text == "" {
				result.Error = "PDF contains no extractable text."
				return result
			}
			result.Text = truncate(text, maxLength)
			return result
		}

		if !isSupportedContentType(contentType, body) {
			result.Error = "Unsupported content type: " + firstNonEmpty(contentType, "unknown")
			return result
		}

		result.ContentType = contentType
		if strings.Contains(contentType, "html") || strings.Contains(contentType, "xml") {
			result.ContentFormat = "html"
			title, text := extractReadable(body, normalized)
			result.Title = title
			result.Text = truncate(text, maxLength)
		} else {
			result.ContentFormat = "text"
			result.Text = truncate(string(body), maxLength)
		}
		return result
	}

	if lastErr != nil {
		result.Error = fmt.Sprintf("Request failed: %v", lastErr)
	} else {
		result.Error = "Request failed after retries"
	}
	return result
}

// fetchOnce tries the bot user agent first and falls back to a browser
// one on 403; some agency sites block obvious bots.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, target string) (int, http.Header, []byte, error) {
	for _, variant := range []string{"bot", "browser"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return 0, nil, nil, err
		}
		setHeaders(req, variant)

		resp, err := f.client.Do(req)
		if err != nil {
			return 0, nil, nil, err
		}

		if resp.StatusCode == http.StatusForbidden && variant == "bot" {
			resp.Body.Close()
			continue
		}

		body, err := readCapped(resp.Body, f.maxBytes)
		resp.Body.Close()
		if err != nil {
			return 0, nil, nil, err
		}
		return resp.StatusCode, resp.Header, body, nil
	}
	return http.StatusForbidden, http.Header{}, []byte{}, nil
}

func setHeaders(req *http.Request, variant string) {
	if variant == "browser" {
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	} else {
		req.Header.Set("User-Agent", "PolicyRadarBot/1.0 (Federal Policy Research Tool)")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

// readCapped reads the body up to max bytes; a nil slice signals the
// body exceeded the limit.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, nil
	}
	return body, nil
}

func (f *HTTPFetcher) normalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("missing URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme")
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("missing host")
	}
	return parsed, nil
}

func (f *HTTPFetcher) validateHost(ctx context.Context, host string) error {
	if f.allowLocal {
		return nil
	}

	if !f.hostAllowed(host) {
		return fmt.Errorf("URL host is not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("URL resolves to a private or local address")
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("unable to resolve host")
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return fmt.Errorf("URL resolves to a private or local address")
		}
	}
	return nil
}

func (f *HTTPFetcher) hostAllowed(host string) bool {
	if len(f.allowedDomains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range f.allowedDomains {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if match, err := doublestar.Match(pattern, host); err == nil && match {
			return true
		}
		// "*.gov" should also cover the bare apex domain.
		if trimmed, ok := strings.CutPrefix(pattern, "*."); ok && host == trimmed {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

func isProbablyPDF(contentType, target string, body []byte) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(target), ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF"))
}

func looksLikeText(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	sample := body
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	printable := 0
	for _, b := range sample {
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) > 0.85
}

func isSupportedContentType(contentType string, body []byte) bool {
	if contentType == "" {
		return looksLikeText(body)
	}
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	if strings.Contains(contentType, "html") || strings.Contains(contentType, "xml") || strings.Contains(contentType, "json") {
		return true
	}
	if strings.Contains(contentType, "octet-stream") || strings.Contains(contentType, "binary") {
		return looksLikeText(body)
	}
	return false
}

// extractReadable runs readability extraction and falls back to a bare
// goquery text dump when the page defeats it.
func extractReadable(body []byte, pageURL *url.URL) (title, text string) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, footer, head").Remove()
	text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return title, text
}

// truncate cuts text at maxLength, biased toward ending on a sentence
// when one falls in the last fifth of the window.
func truncate(text string, maxLength int) string {
	text = strings.TrimSpace(text)
	if maxLength <= 0 || len(text) <= maxLength {
		return text
	}
	cut := text[:maxLength]
	if idx := strings.LastIndex(cut, "."); idx > int(float64(maxLength)*0.8) {
		cut = cut[:idx+1]
	}
	return cut + "\n\n[Content truncated due to length...]"
}

func retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
		return 0
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%f", &secs); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

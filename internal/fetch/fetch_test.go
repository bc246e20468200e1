package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/policyradar/policyradar/internal/observe"
)

func testFetcher(allowLocal bool, domains ...string) *HTTPFetcher {
	return New(observe.New(io.Discard, false), Options{
		AllowedDomains: domains,
		AllowLocal:     allowLocal,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
}

func TestFetchHTMLPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>EPA Rule Summary</title></head><body><article><p>The agency finalized new emission limits. ` + strings.Repeat("Additional detail sentence. ", 30) + `</p></article></body></html>`))
	}))
	defer srv.Close()

	f := testFetcher(true)
	result := f.FetchURL(context.Background(), srv.URL, 15000)
	if result.Error != "" {
		t.Fatalf("Error = %s", result.Error)
	}
	if result.ContentFormat != "html" {
		t.Errorf("ContentFormat = %s", result.ContentFormat)
	}
	if !strings.Contains(result.Text, "emission limits") {
		t.Errorf("Text missing body content: %q", result.Text[:min(len(result.Text), 200)])
	}
}

func TestFetchFlagsPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	f := testFetcher(true)
	result := f.FetchURL(context.Background(), srv.URL, 15000)
	if result.ContentFormat != "pdf" {
		t.Fatalf("ContentFormat = %s, want pdf", result.ContentFormat)
	}
	if result.PDFURL == "" {
		t.Error("PDFURL not set for PDF response")
	}
	// A body that only pretends to be a PDF reports an extraction error
	// instead of garbage text.
	if result.Text != "" {
		t.Errorf("Text = %q, want empty for unparseable PDF", result.Text)
	}
	if result.Error == "" {
		t.Error("expected an extraction error for a malformed PDF")
	}
}

func TestDomainAllowlist(t *testing.T) {
	f := testFetcher(false, "*.gov", "*.mil")

	cases := []struct {
		host string
		want bool
	}{
		{"www.epa.gov", true},
		{"epa.gov", true},
		{"api.fiscaldata.treasury.gov", true},
		{"defense.mil", true},
		{"example.com", false},
		{"evil-gov.com", false},
	}
	for _, tc := range cases {
		if got := f.hostAllowed(tc.host); got != tc.want {
			t.Errorf("hostAllowed(%s) = %v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestBlockedHostRejected(t *testing.T) {
	f := testFetcher(false, "*.gov")
	result := f.FetchURL(context.Background(), "https://example.com/page", 1000)
	if !strings.Contains(result.Error, "not allowed") {
		t.Errorf("Error = %q, want host rejection", result.Error)
	}
}

func TestPrivateAddressRejected(t *testing.T) {
	f := testFetcher(false) // empty allowlist permits any domain, IP guard still applies
	result := f.FetchURL(context.Background(), "http://127.0.0.1:8080/internal", 1000)
	if !strings.Contains(result.Error, "private or local") {
		t.Errorf("Error = %q, want private address rejection", result.Error)
	}
}

func TestSchemeValidation(t *testing.T) {
	f := testFetcher(true)
	result := f.FetchURL(context.Background(), "ftp://example.gov/file", 1000)
	if !strings.Contains(result.Error, "scheme") {
		t.Errorf("Error = %q", result.Error)
	}

	// Bare hostnames get https prepended.
	if _, err := f.normalizeURL("www.epa.gov/page"); err != nil {
		t.Errorf("normalizeURL bare host: %v", err)
	}
}

func TestBrowserFallbackOn403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.UserAgent(), "PolicyRadarBot") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain text content"))
	}))
	defer srv.Close()

	f := testFetcher(true)
	result := f.FetchURL(context.Background(), srv.URL, 1000)
	if result.Error != "" {
		t.Fatalf("Error = %s, want browser-UA fallback to succeed", result.Error)
	}
	if result.Text != "plain text content" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestResponseSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	f := New(observe.New(io.Discard, false), Options{
		AllowLocal:     true,
		MaxBytes:       1024,
		InitialBackoff: time.Millisecond,
	})
	result := f.FetchURL(context.Background(), srv.URL, 0)
	if !strings.Contains(result.Error, "too large") {
		t.Errorf("Error = %q, want size cap", result.Error)
	}
}

func TestTruncateSentenceBias(t *testing.T) {
	text := strings.Repeat("word ", 50) + "End of sentence." + strings.Repeat(" trailing", 10)
	got := truncate(text, 270)
	if !strings.HasSuffix(strings.TrimSuffix(got, "\n\n[Content truncated due to length...]"), ".") {
		t.Errorf("truncation did not land on sentence boundary: %q", got)
	}
	if !strings.Contains(got, "[Content truncated") {
		t.Errorf("missing truncation marker")
	}

	short := "short text"
	if truncate(short, 100) != short {
		t.Errorf("short text should pass through")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

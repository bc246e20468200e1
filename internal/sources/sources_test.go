package sources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/observe"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = time.Millisecond
	return NewClient(cfg, observe.New(io.Discard, false))
}

func TestRegulationsSearchDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "demo-key" {
			t.Errorf("X-Api-Key = %s", got)
		}
		if got := r.URL.Query().Get("filter[searchTerm]"); got != "methane" {
			t.Errorf("searchTerm = %s", got)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"EPA-2024-001","attributes":{"title":"Methane Rule","agencyId":"EPA","postedDate":"2024-03-01","summary":"Final rule."}}]}`))
	}))
	defer srv.Close()

	client := testClient(t)
	reg := NewRegulations(client, srv.URL, "demo-key")
	raw, items, err := reg.SearchDocuments(context.Background(), "methane", "", "", 10)
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(raw) != 1 || len(items) != 1 {
		t.Fatalf("got %d raw, %d items", len(raw), len(items))
	}
	item := items[0]
	if item.SourceType != "regulations_document" || item.ID != "EPA-2024-001" {
		t.Errorf("item = %+v", item)
	}
	if item.URL != "https://www.regulations.gov/document/EPA-2024-001" {
		t.Errorf("URL = %s", item.URL)
	}
	if item.Agency != "EPA" || item.Excerpt != "Final rule." {
		t.Errorf("item = %+v", item)
	}
}

func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := testClient(t)
	reg := NewRegulations(client, srv.URL, "k")
	_, _, err := reg.SearchDocuments(context.Background(), "anything", "", "", 5)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(t)
	reg := NewRegulations(client, srv.URL, "k")
	_, _, err := reg.SearchDocuments(context.Background(), "anything", "", "", 5)
	var rate *RateLimitError
	if !errors.As(err, &rate) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":["bad filter"]}`))
	}))
	defer srv.Close()

	client := testClient(t)
	reg := NewRegulations(client, srv.URL, "k")
	_, _, err := reg.SearchDocuments(context.Background(), "anything", "", "", 5)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried: calls = %d", calls.Load())
	}
}

func TestGetResponsesCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := testClient(t)
	fr := NewFederalRegister(client, srv.URL)
	for i := 0; i < 3; i++ {
		if _, _, err := fr.SearchDocuments(context.Background(), "same query", "", "", 0, 10); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (cached)", calls.Load())
	}
}

func TestFederalRegisterNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"document_number":"2024-12345","title":"Air Quality Standards","agencies":[{"name":"EPA"},{"name":"OMB"}],"publication_date":"2024-05-01","html_url":"https://www.federalregister.gov/d/2024-12345","pdf_url":"https://example.gov/doc.pdf","type":"Rule","abstract":"Revises NAAQS."}]}`))
	}))
	defer srv.Close()

	client := testClient(t)
	fr := NewFederalRegister(client, srv.URL)
	_, items, err := fr.SearchDocuments(context.Background(), "air quality", "", "", 30, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	item := items[0]
	if item.Agency != "EPA, OMB" {
		t.Errorf("Agency = %s", item.Agency)
	}
	if item.PDFURL != "https://example.gov/doc.pdf" || item.ContentType != "Rule" {
		t.Errorf("item = %+v", item)
	}
}

func TestBuildQuery(t *testing.T) {
	got := BuildQuery("clean water", "FR", 0)
	if got != "collection:FR AND clean water" {
		t.Errorf("BuildQuery = %q", got)
	}

	got = BuildQuery("collection:BILLS water", "FR", 0)
	if strings.Contains(got, "collection:FR") {
		t.Errorf("duplicated collection clause: %q", got)
	}

	got = BuildQuery("water", "", 30)
	if !strings.Contains(got, "publishdate:range(") {
		t.Errorf("missing date clause: %q", got)
	}

	got = BuildQuery("water publishdate:range(2024-01-01,)", "", 30)
	if strings.Count(got, "publishdate:range") != 1 {
		t.Errorf("duplicated date clause: %q", got)
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{2_500_000_000_000, "$2.50T"},
		{1_200_000_000, "$1.20B"},
		{3_400_000, "$3.40M"},
		{5_600, "$5.60K"},
		{42.5, "$42.50"},
	}
	for _, tc := range cases {
		if got := formatCurrency(tc.amount); got != tc.want {
			t.Errorf("formatCurrency(%v) = %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestUSASpendingRejectsUnknownAwardType(t *testing.T) {
	client := testClient(t)
	u := NewUSASpending(client, "http://unused.invalid")
	_, _, _, err := u.SearchSpending(context.Background(), []string{"defense"}, "", "", "subsidies", 0, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 APIError", err)
	}
}

func TestFiscalDataRejectsUnknownDataset(t *testing.T) {
	client := testClient(t)
	f := NewFiscalData(client, "http://unused.invalid")
	_, _, _, err := f.QueryDataset(context.Background(), "lottery_numbers", nil, nil, "", 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if !strings.Contains(apiErr.Message, "debt_to_penny") {
		t.Errorf("error should list supported datasets: %s", apiErr.Message)
	}
}

func TestDOJTimestampConversion(t *testing.T) {
	item := normalizePressRelease(map[string]any{
		"uuid":    "abc-123",
		"title":   "Settlement Announced",
		"created": "1700000000",
		"path":    "/opa/pr/settlement",
	})
	if item.Date == "" || strings.Contains(item.Date, "1700000000") {
		t.Errorf("Date = %q, want formatted date", item.Date)
	}
	if item.URL != "https://www.justice.gov/opa/pr/settlement" {
		t.Errorf("URL = %s", item.URL)
	}
	if item.Agency != "Department of Justice" {
		t.Errorf("Agency = %s", item.Agency)
	}
}

func TestSearchGovConfigured(t *testing.T) {
	client := testClient(t)
	if NewSearchGov(client, "http://x", "", "").Configured() {
		t.Error("unconfigured SearchGov reports Configured")
	}
	if !NewSearchGov(client, "http://x", "agency", "key").Configured() {
		t.Error("configured SearchGov reports not Configured")
	}
}

func TestCongressBillNormalization(t *testing.T) {
	item := normalizeBill(map[string]any{
		"type":     "HR",
		"number":   "1234",
		"congress": float64(118),
		"title":    "Infrastructure Act",
		"latestAction": map[string]any{
			"actionDate": "2024-02-02",
			"text":       "Passed House.",
		},
	})
	if item.ID != "118-hr-1234" {
		t.Errorf("ID = %s", item.ID)
	}
	if item.URL != "https://www.congress.gov/bill/118th-congress/hr/1234" {
		t.Errorf("URL = %s", item.URL)
	}
	if item.Excerpt != "Passed House." || item.Date != "2024-02-02" {
		t.Errorf("item = %+v", item)
	}
}

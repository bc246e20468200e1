package tools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/fetch"
	"github.com/policyradar/policyradar/internal/memory"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/sources"
)

// fakeFetcher returns canned results keyed by URL substring.
type fakeFetcher struct {
	results map[string]fetch.Result
}

func (f *fakeFetcher) FetchURL(_ context.Context, rawURL string, _ int) fetch.Result {
	for key, res := range f.results {
		if strings.Contains(rawURL, key) {
			res.URL = rawURL
			return res
		}
	}
	return fetch.Result{URL: rawURL, Error: "No content available."}
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0.5, 0.25}
	}
	return out, nil
}

var testEmbCfg = memory.EmbeddingConfig{Provider: "test", Model: "stub"}

func testMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	index, err := memory.NewSQLiteIndex(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	store := memory.NewStore(index, observe.New(io.Discard, false), memory.Options{
		ChunkSize:      1200,
		ChunkOverlap:   200,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	store.RegisterEmbedder(testEmbCfg, stubEmbedder{})
	return store
}

func testSourcesClient(t *testing.T) *sources.Client {
	t.Helper()
	cfg := config.Default()
	cfg.MaxRetries = 1
	cfg.InitialBackoff = time.Millisecond
	return sources.NewClient(cfg, observe.New(io.Discard, false))
}

func newTestDispatcher(deps Deps) *Dispatcher {
	return NewDispatcher(observe.New(io.Discard, false), deps, "sess-test", testEmbCfg)
}

func TestExecuteUnknownTool(t *testing.T) {
	d := newTestDispatcher(Deps{})
	result, preview := d.Execute(context.Background(), "bogus_tool", nil)
	if result["error"] != "Unknown tool: bogus_tool" {
		t.Errorf("result = %v", result)
	}
	if preview != nil {
		t.Errorf("preview = %v, want nil", preview)
	}
}

func TestExecuteRegsSearchDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"id":"EPA-2024-001","attributes":{"title":"Methane Emission Standards for the Oil and Natural Gas Sector, a Very Long Rule Title","agencyId":"EPA","postedDate":"2024-03-01"}},
			{"id":"EPA-2024-002","attributes":{"title":"Water Quality Criteria","agencyId":"EPA","postedDate":"2024-03-02"}}
		]}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(Deps{
		Regulations: sources.NewRegulations(testSourcesClient(t), srv.URL, "demo-key"),
	})

	result, preview := d.Execute(context.Background(), "regs_search_documents", map[string]any{
		"search_term": "methane",
		"days":        float64(30), // JSON numbers arrive as float64
	})
	if result["error"] != nil {
		t.Fatalf("result error = %v", result["error"])
	}
	if result["count"] != 2 {
		t.Errorf("count = %v", result["count"])
	}

	titles, ok := preview["top_titles"].([]string)
	if !ok || len(titles) != 2 {
		t.Fatalf("top_titles = %v", preview["top_titles"])
	}
	if len(titles[0]) > 80 {
		t.Errorf("title not truncated: %d chars", len(titles[0]))
	}

	collected := d.Sources()
	if len(collected) != 2 {
		t.Fatalf("sources = %d, want 2", len(collected))
	}
	if collected[0].ID != "EPA-2024-001" {
		t.Errorf("first source = %+v", collected[0])
	}
}

func TestSourcesDedupAndClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"EPA-2024-001","attributes":{"title":"Methane Rule","agencyId":"EPA"}}]}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(Deps{
		Regulations: sources.NewRegulations(testSourcesClient(t), srv.URL, "demo-key"),
	})

	ctx := context.Background()
	d.Execute(ctx, "regs_search_documents", map[string]any{"search_term": "methane"})
	d.Execute(ctx, "regs_search_documents", map[string]any{"search_term": "methane"})

	if got := d.Sources(); len(got) != 1 {
		t.Errorf("sources = %d, want 1 after dedup", len(got))
	}

	d.ClearSources()
	if got := d.Sources(); len(got) != 0 {
		t.Errorf("sources after clear = %d, want 0", len(got))
	}
}

func TestExecuteToolFailureAsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer srv.Close()

	d := newTestDispatcher(Deps{
		Regulations: sources.NewRegulations(testSourcesClient(t), srv.URL, "demo-key"),
	})

	result, preview := d.Execute(context.Background(), "regs_search_documents", map[string]any{"search_term": "x"})
	if result["error"] == nil {
		t.Fatal("expected error in result")
	}
	if preview["error"] == nil {
		t.Fatal("expected error in preview")
	}
}

func TestSearchGovUnconfigured(t *testing.T) {
	d := newTestDispatcher(Deps{
		SearchGov: sources.NewSearchGov(testSourcesClient(t), "https://example.invalid", "", ""),
	})
	result, _ := d.Execute(context.Background(), "searchgov_search", map[string]any{"query": "epa"})
	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "not configured") {
		t.Errorf("error = %q", errMsg)
	}
}

func TestFetchURLIndexesPDF(t *testing.T) {
	store := testMemoryStore(t)
	fetcher := &fakeFetcher{results: map[string]fetch.Result{
		"example.gov/report.pdf": {
			Title:         "Annual Report",
			Text:          strings.Repeat("Budget outlays rose sharply. ", 200),
			ContentType:   "application/pdf",
			ContentFormat: "pdf",
			PDFURL:        "https://example.gov/report.pdf",
		},
	}}
	d := newTestDispatcher(Deps{Fetcher: fetcher, Memory: store})

	ctx := context.Background()
	args := map[string]any{"url": "https://example.gov/report.pdf"}

	_, preview := d.Execute(ctx, "fetch_url_content", args)
	indexed, ok := preview["pdf_index"].(map[string]any)
	if !ok {
		t.Fatalf("pdf_index missing: %v", preview)
	}
	if indexed["status"] != memory.StatusIndexed {
		t.Fatalf("pdf_index = %v", indexed)
	}

	// Same document again: idempotent skip, reported in the preview.
	_, preview = d.Execute(ctx, "fetch_url_content", args)
	indexed, _ = preview["pdf_index"].(map[string]any)
	if indexed["status"] != memory.StatusSkipped || indexed["reason"] != "already_indexed" {
		t.Errorf("second pdf_index = %v", indexed)
	}

	// The indexed content is now retrievable through the memory tool.
	result, _ := d.Execute(ctx, "search_pdf_memory", map[string]any{"query": "budget outlays"})
	if count, _ := result["count"].(int); count == 0 {
		t.Errorf("search_pdf_memory found nothing: %v", result)
	}
}

func TestHTMLFetchDoesNotIndex(t *testing.T) {
	store := testMemoryStore(t)
	fetcher := &fakeFetcher{results: map[string]fetch.Result{
		"example.gov/page": {
			Title:         "Press Release",
			Text:          "Agency announces new rule.",
			ContentFormat: "html",
		},
	}}
	d := newTestDispatcher(Deps{Fetcher: fetcher, Memory: store})

	_, preview := d.Execute(context.Background(), "fetch_url_content", map[string]any{"url": "https://example.gov/page"})
	if _, ok := preview["pdf_index"]; ok {
		t.Errorf("pdf_index set for HTML content: %v", preview)
	}
}

func TestFilterForSources(t *testing.T) {
	declared := Declarations()
	filtered := FilterForSources(declared, map[string]bool{SourceRegulations: true})

	names := map[string]bool{}
	for _, tool := range filtered {
		names[tool.Name] = true
	}

	for _, want := range []string{"regs_search_documents", "fetch_url_content", "search_pdf_memory"} {
		if !names[want] {
			t.Errorf("missing %s", want)
		}
	}
	for _, unwanted := range []string{"congress_search_bills", "doj_search_press_releases"} {
		if names[unwanted] {
			t.Errorf("unexpected %s", unwanted)
		}
	}
}

func TestToolSourceMappingComplete(t *testing.T) {
	for _, tool := range Declarations() {
		if tool.Name == "fetch_url_content" || tool.Name == "search_pdf_memory" {
			if _, bound := ToolSource(tool.Name); bound {
				t.Errorf("%s should not be source-bound", tool.Name)
			}
			continue
		}
		source, bound := ToolSource(tool.Name)
		if !bound {
			t.Errorf("%s has no source mapping", tool.Name)
			continue
		}
		if DisplayNames[source] == "" {
			t.Errorf("%s maps to unknown source %q", tool.Name, source)
		}
	}
}

func TestLabel(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"regs_search_documents", map[string]any{"search_term": "tariffs"}, "Search Regulations.gov documents: tariffs"},
		{"congress_get_bill", map[string]any{"bill_type": "hr", "bill_number": float64(1234)}, "Get bill: HR 1234"},
		{"fetch_url_content", map[string]any{"url": "https://example.gov/a-very-long-path-that-keeps-going-and-going-forever"}, "Fetch URL: https://example.gov/a-very-long-path-that-keeps..."},
		{"mystery_tool", nil, "Execute: mystery_tool"},
	}
	for _, tc := range cases {
		if got := Label(tc.name, tc.args); got != tc.want {
			t.Errorf("Label(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPDFSearchLabel(t *testing.T) {
	label := PDFSearchLabel("budget outlays", map[string]any{
		"documents": []map[string]any{
			{"doc_key": "url:https://example.gov/report.pdf"},
			{"doc_key": "govinfo:CREC-2024"},
		},
	})
	if !strings.Contains(label, "top: url:https://example.gov/report.pdf") || !strings.Contains(label, "+1") {
		t.Errorf("label = %q", label)
	}

	if got := PDFSearchLabel("budget", map[string]any{}); got != "Search PDF memory: budget" {
		t.Errorf("bare label = %q", got)
	}
}

func TestPrepareOutputTruncates(t *testing.T) {
	long := strings.Repeat("The rule takes effect in thirty days. ", 800) // ~30k chars
	result := map[string]any{"full_text": long, "title": "Rule"}

	prepared := PrepareOutput("fetch_url_content", result)
	text, _ := prepared["full_text"].(string)
	if len(text) >= len(long) {
		t.Fatal("full_text not truncated")
	}
	if !strings.Contains(text, "[Content truncated for model context...]") {
		t.Error("truncation marker missing")
	}
	if prepared["full_text_truncated"] != true || prepared["full_text_length"] != len(long) {
		t.Errorf("markers = %v / %v", prepared["full_text_truncated"], prepared["full_text_length"])
	}

	// The input map is left untouched.
	if got, _ := result["full_text"].(string); len(got) != len(long) {
		t.Error("PrepareOutput mutated its input")
	}
}

func TestAcceptsDays(t *testing.T) {
	if !AcceptsDays("regs_search_documents") || !AcceptsDays("doj_search_press_releases") {
		t.Error("days tools not recognized")
	}
	if AcceptsDays("regs_get_document") || AcceptsDays("search_pdf_memory") {
		t.Error("non-days tool reported as accepting days")
	}
}

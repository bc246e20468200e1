package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/provider"
)

func testRouter(backend provider.Backend) *Router {
	return New(backend, observe.New(io.Discard, false))
}

func TestResolveAcceptsValidSelection(t *testing.T) {
	backend := provider.NewStubBackend(provider.TurnResult{
		Text: `{"sources":["regulations","federal_register"],"rationale":"Rulemaking query."}`,
	})
	r := testRouter(backend)

	selection, err := r.Resolve(context.Background(), "find recent EPA water rules",
		[]string{"regulations", "govinfo", "federal_register"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != 2 {
		t.Fatalf("sources = %v", selection.Sources)
	}
	if selection.Rationale != "Rulemaking query." {
		t.Errorf("rationale = %q", selection.Rationale)
	}

	prompt := backend.Turns[0].Messages[0].Content
	if !strings.Contains(prompt, "find recent EPA water rules") {
		t.Error("prompt missing query")
	}
	if !strings.Contains(prompt, "- regulations: Regulations.gov") {
		t.Error("prompt missing allowed source line")
	}
}

func TestResolveIgnoresDisallowedAndCaps(t *testing.T) {
	backend := provider.NewStubBackend(provider.TurnResult{
		Text: `{"sources":["regulations","nonsense","congress","doj","usaspending","fiscal_data","datagov","searchgov","govinfo"]}`,
	})
	r := testRouter(backend)

	allowed := []string{"regulations", "congress", "doj", "usaspending", "fiscal_data", "datagov", "searchgov", "govinfo", "federal_register"}
	selection, err := r.Resolve(context.Background(), "everything", allowed)
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != 6 {
		t.Errorf("sources = %v, want cap at 6", selection.Sources)
	}
	for _, s := range selection.Sources {
		if s == "nonsense" {
			t.Error("disallowed source accepted")
		}
	}
}

func TestResolveRetriesThenParsesWrappedJSON(t *testing.T) {
	backend := provider.NewStubBackend(
		provider.TurnResult{Text: "I think the answer is obvious."},
		provider.TurnResult{Text: "Sure! Here you go: {\"sources\":[\"congress\"],\"rationale\":\"Bills.\"} Hope that helps."},
	)
	r := testRouter(backend)

	selection, err := r.Resolve(context.Background(), "status of HR 1234", []string{"congress", "govinfo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != 1 || selection.Sources[0] != "congress" {
		t.Fatalf("sources = %v", selection.Sources)
	}
	if len(backend.Turns) != 2 {
		t.Errorf("turns = %d, want retry", len(backend.Turns))
	}
	if !strings.Contains(backend.Turns[1].Messages[0].Content, "ONLY the JSON object") {
		t.Error("retry prompt missing bare-JSON instruction")
	}
}

func TestResolveFallsBackOnFailure(t *testing.T) {
	backend := provider.NewStubBackend()
	backend.Err = errors.New("backend down")
	r := testRouter(backend)

	allowed := []string{"regulations", "govinfo", "federal_register"}
	selection, err := r.Resolve(context.Background(), "find recent EPA water rules", allowed)
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != len(allowed) {
		t.Errorf("sources = %v, want full allowed set", selection.Sources)
	}
	if selection.Rationale == "" {
		t.Error("fallback rationale missing")
	}
}

func TestResolveFallsBackOnGarbage(t *testing.T) {
	backend := provider.NewStubBackend(
		provider.TurnResult{Text: "not json"},
		provider.TurnResult{Text: "{\"sources\":[]}"},
	)
	r := testRouter(backend)

	selection, err := r.Resolve(context.Background(), "query", []string{"doj", "datagov"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != 2 {
		t.Errorf("sources = %v, want full allowed set", selection.Sources)
	}
}

func TestResolveSingleSourceShortCircuit(t *testing.T) {
	backend := provider.NewStubBackend()
	r := testRouter(backend)

	selection, err := r.Resolve(context.Background(), "query", []string{"govinfo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selection.Sources) != 1 || selection.Sources[0] != "govinfo" {
		t.Fatalf("selection = %+v", selection)
	}
	if len(backend.Turns) != 0 {
		t.Error("classification call made for single-source set")
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := testRouter(provider.NewStubBackend())
	if _, err := r.Resolve(ctx, "query", []string{"doj", "datagov"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	if got := extractJSONObject(`{"a":1}`); got == nil {
		t.Error("strict JSON not parsed")
	}
	if got := extractJSONObject("prefix {\"a\":1} suffix"); got == nil {
		t.Error("wrapped JSON not parsed")
	}
	if got := extractJSONObject("no braces here"); got != nil {
		t.Errorf("got %v for garbage", got)
	}
}

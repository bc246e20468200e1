package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/policyradar/policyradar/internal/orchestrate"
	"github.com/policyradar/policyradar/internal/sources"
)

func TestRenderStepPair(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventStep, Step: &orchestrate.Step{
		StepID: "1", Status: orchestrate.StepRunning, Label: "Search Regulations.gov documents: methane",
	}})
	r.Render(orchestrate.Event{Kind: orchestrate.EventStep, Step: &orchestrate.Step{
		StepID: "1", Status: orchestrate.StepDone,
		ResultPreview: map[string]any{"count": 4},
	}})

	out := buf.String()
	if !strings.Contains(out, "… Search Regulations.gov documents: methane") {
		t.Errorf("missing running line: %q", out)
	}
	if !strings.Contains(out, "✓ Search Regulations.gov documents: methane (4 results)") {
		t.Errorf("missing terminal line with label carried over: %q", out)
	}
}

func TestRenderStepError(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventStep, Step: &orchestrate.Step{
		StepID: "2", Status: orchestrate.StepRunning, Label: "Fetch URL: https://a.gov/x",
	}})
	r.Render(orchestrate.Event{Kind: orchestrate.EventStep, Step: &orchestrate.Step{
		StepID: "2", Status: orchestrate.StepError,
	}})

	if !strings.Contains(buf.String(), "✗ Fetch URL: https://a.gov/x") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRenderDeltaThenStepBreaksLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventAssistantDelta, Delta: "Checking"})
	r.Render(orchestrate.Event{Kind: orchestrate.EventStep, Step: &orchestrate.Step{
		StepID: "1", Status: orchestrate.StepRunning, Label: "Search",
	}})

	if !strings.Contains(buf.String(), "Checking\n…") {
		t.Errorf("delta run not terminated before step: %q", buf.String())
	}
}

func TestRenderDone(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventAssistantDelta, Delta: "Answer text."})
	r.Render(orchestrate.Event{Kind: orchestrate.EventDone, Done: &orchestrate.Done{
		AnswerText: "Answer text.",
		Model:      "gpt-5.2",
		Sources: []sources.SourceItem{
			{Title: "Methane Rule", URL: "https://www.regulations.gov/document/EPA-1"},
		},
	}})

	out := buf.String()
	// Deltas already carried the text; done must not repeat it.
	if strings.Count(out, "Answer text.") != 1 {
		t.Errorf("answer repeated: %q", out)
	}
	if !strings.Contains(out, "Sources") || !strings.Contains(out, "1. Methane Rule") {
		t.Errorf("sources missing: %q", out)
	}
	if !strings.Contains(out, "model: gpt-5.2") {
		t.Errorf("model line missing: %q", out)
	}
}

func TestRenderDoneWithoutDeltas(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventDone, Done: &orchestrate.Done{
		AnswerText: "Full answer.", Model: "m",
	}})

	if !strings.Contains(buf.String(), "Full answer.") {
		t.Errorf("answer missing when no deltas streamed: %q", buf.String())
	}
}

func TestRenderErrorAndCancelled(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(orchestrate.Event{Kind: orchestrate.EventError, Error: &orchestrate.ErrorInfo{
		Kind: orchestrate.ErrKindRateLimited, Message: "Rate limited.", RetryAfter: 30,
	}})
	r.Render(orchestrate.Event{Kind: orchestrate.EventCancelled, Message: "Request cancelled."})

	out := buf.String()
	if !strings.Contains(out, "Error: Rate limited.") || !strings.Contains(out, "Retry after 30 seconds.") {
		t.Errorf("error rendering: %q", out)
	}
	if !strings.Contains(out, "Cancelled.") {
		t.Errorf("cancelled rendering: %q", out)
	}
}

// Package ui renders the orchestration event stream for a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/policyradar/policyradar/internal/orchestrate"
)

var (
	stepRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	stepDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stepErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	cancelledStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	sourceTitleStyle = lipgloss.NewStyle().Bold(true)
	sourceURLStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Underline(true)
	modelStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

// Renderer writes events to out as they arrive. Plain mode drops all
// styling, for piped output and tests.
type Renderer struct {
	mu         sync.Mutex
	out        io.Writer
	plain      bool
	labels     map[string]string // step id -> label, for terminal lines
	inDelta    bool
	sawContent bool
}

func NewRenderer(out io.Writer, plain bool) *Renderer {
	return &Renderer{out: out, plain: plain, labels: map[string]string{}}
}

func (r *Renderer) styled(style lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return style.Render(text)
}

// breakDelta terminates a delta run so the next line starts fresh.
func (r *Renderer) breakDelta() {
	if r.inDelta {
		fmt.Fprintln(r.out)
		r.inDelta = false
	}
}

// Render writes one event. Safe for use from the stream-consuming
// goroutine only; the mutex guards against interleaved direct writes.
func (r *Renderer) Render(ev orchestrate.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case orchestrate.EventAssistantDelta:
		fmt.Fprint(r.out, ev.Delta)
		r.inDelta = true
		r.sawContent = true
	case orchestrate.EventStep:
		r.renderStep(ev.Step)
	case orchestrate.EventDone:
		r.renderDone(ev.Done)
	case orchestrate.EventError:
		r.breakDelta()
		fmt.Fprintln(r.out, r.styled(errorStyle, "Error: "+ev.Error.Message))
		if ev.Error.RetryAfter > 0 {
			fmt.Fprintf(r.out, "Retry after %.0f seconds.\n", ev.Error.RetryAfter)
		}
	case orchestrate.EventCancelled:
		r.breakDelta()
		fmt.Fprintln(r.out, r.styled(cancelledStyle, "Cancelled."))
	}
}

func (r *Renderer) renderStep(step *orchestrate.Step) {
	if step == nil {
		return
	}
	r.breakDelta()

	switch step.Status {
	case orchestrate.StepRunning:
		if step.Label != "" {
			r.labels[step.StepID] = step.Label
		}
		fmt.Fprintln(r.out, r.styled(stepRunningStyle, "… "+step.Label))
	case orchestrate.StepDone:
		label := step.Label
		if label == "" {
			label = r.labels[step.StepID]
		}
		fmt.Fprintln(r.out, r.styled(stepDoneStyle, "✓ "+label+stepSummary(step.ResultPreview)))
	case orchestrate.StepError:
		label := step.Label
		if label == "" {
			label = r.labels[step.StepID]
		}
		fmt.Fprintln(r.out, r.styled(stepErrorStyle, "✗ "+label))
	}
}

func (r *Renderer) renderDone(done *orchestrate.Done) {
	if done == nil {
		return
	}
	r.breakDelta()

	// Stateful transports stream the text as deltas; stateless ones may
	// deliver it only in the final payload.
	if !r.sawContent && done.AnswerText != "" {
		fmt.Fprintln(r.out, done.AnswerText)
	}

	if len(done.Sources) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, r.styled(sourceTitleStyle, "Sources"))
		for i, src := range done.Sources {
			title := src.Title
			if title == "" {
				title = src.ID
			}
			fmt.Fprintf(r.out, "%2d. %s\n", i+1, title)
			if src.URL != "" {
				fmt.Fprintf(r.out, "    %s\n", r.styled(sourceURLStyle, src.URL))
			}
		}
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.styled(modelStyle, "model: "+done.Model))
}

// stepSummary condenses a result preview into a short suffix.
func stepSummary(preview map[string]any) string {
	if preview == nil {
		return ""
	}
	if count, ok := preview["count"].(int); ok {
		return fmt.Sprintf(" (%d results)", count)
	}
	if selected, ok := preview["selected_sources"].([]string); ok {
		return " (" + strings.Join(selected, ", ") + ")"
	}
	if status, ok := preview["status"].(string); ok {
		return " (" + status + ")"
	}
	return ""
}

package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/policyradar/policyradar/internal/memory"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/provider"
	"github.com/policyradar/policyradar/internal/router"
	"github.com/policyradar/policyradar/internal/tools"
)

const defaultMaxTurns = 20

// Instructions is the standing system prompt for the research loop.
const Instructions = `You are a neutral policy research assistant specializing in U.S. federal regulatory activity.

CRITICAL RULES:
1. Always use the available tools to search for up-to-date information. Never guess or make up information about regulations or federal activity.
2. Provide citations as links for every factual claim. Include at least one source per factual paragraph.
3. Do not provide legal advice. Always include this disclaimer at the end: "Note: This is not legal advice. Please verify information with official sources."
4. Be non-partisan and objective. Present information neutrally without political bias.
5. Keep responses readable and well-organized. Use bullet points or numbered lists for multiple items.

When searching:
- The user has specified a time window - respect it by using the 'days' parameter on tools that accept one
- After finding documents, use the read-content tools to read the full text when the user asks for details, summaries, or analysis
- Use fetch_url_content as a fallback for any government URL
- Use search_pdf_memory to retrieve previously indexed PDF content for this session when needed

Format your response clearly with:
- A summary of what you found
- Key details organized logically
- Direct links to sources
- The required disclaimer at the end`

// Request describes one orchestration call. History and
// PreviousResponseID carry prior conversation turns: stateless backends
// replay History, stateful ones resume from PreviousResponseID.
type Request struct {
	SessionID          string
	Message            string
	Days               int
	AutoRoute          bool
	AllowedSources     []string // configured source keys; empty disables source tools
	MaxTurns           int
	History            []provider.Message
	PreviousResponseID string
}

// Options tunes the engine.
type Options struct {
	Instructions     string
	AutoMemorySearch bool
	MemoryTopK       int
}

// Engine drives the SUBMIT_TURN / EXECUTE_TOOLS loop.
type Engine struct {
	backend    provider.Backend
	dispatcher *tools.Dispatcher
	router     *router.Router
	memory     *memory.Store
	embCfg     memory.EmbeddingConfig
	obs        *observe.Observer
	calls      *CallRegistry
	opts       Options
}

func NewEngine(
	backend provider.Backend,
	dispatcher *tools.Dispatcher,
	sourceRouter *router.Router,
	memStore *memory.Store,
	embCfg memory.EmbeddingConfig,
	obs *observe.Observer,
	calls *CallRegistry,
	opts Options,
) *Engine {
	if opts.Instructions == "" {
		opts.Instructions = Instructions
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = 5
	}
	return &Engine{
		backend:    backend,
		dispatcher: dispatcher,
		router:     sourceRouter,
		memory:     memStore,
		embCfg:     embCfg,
		obs:        obs,
		calls:      calls,
		opts:       opts,
	}
}

// Stream runs the orchestration call and returns its event stream. The
// channel is closed after the terminal event.
func (e *Engine) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		e.run(ctx, req, out)
	}()
	return out
}

// stepCounter hands out stringified monotonically increasing step ids.
type stepCounter int

func (c *stepCounter) next() string {
	*c++
	return strconv.Itoa(int(*c))
}

func (e *Engine) run(ctx context.Context, req Request, out chan<- Event) {
	if e.calls != nil {
		var release func()
		ctx, release = e.calls.Begin(ctx, req.SessionID)
		defer release()
	}

	ctx, span := e.obs.StartSpan(ctx, "orchestrate.stream")
	defer span.End()

	if req.MaxTurns <= 0 {
		req.MaxTurns = defaultMaxTurns
	}

	var steps stepCounter
	e.dispatcher.ClearSources()

	selected, rationale, ok := e.selectSources(ctx, req, &steps, out)
	if !ok {
		return
	}

	selectedSet := make(map[string]bool, len(selected))
	for _, key := range selected {
		selectedSet[key] = true
	}
	toolset := tools.FilterForSources(tools.Declarations(), selectedSet)

	messages := append([]provider.Message(nil), req.History...)
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: formatUserMessage(req, selected, rationale),
	})
	turn := &provider.Turn{
		Instructions: e.opts.Instructions,
		Messages:     messages,
		PreviousID:   req.PreviousResponseID,
		Tools:        toolset,
	}

	var answer strings.Builder
	var responseID string

	for turnIndex := 0; turnIndex < req.MaxTurns; turnIndex++ {
		if ctx.Err() != nil {
			e.emitCancelled(out)
			return
		}

		result, err := e.backend.SubmitTurn(ctx, turn, func(delta string) {
			out <- Event{Kind: EventAssistantDelta, Delta: delta}
		})
		if err != nil {
			if ctx.Err() != nil || provider.IsAborted(err) {
				e.emitCancelled(out)
				return
			}
			e.obs.Log().Error().Str("error", err.Error()).Msg("Turn submission failed")
			out <- Event{Kind: EventError, Error: classifyError(err)}
			return
		}

		answer.WriteString(result.Text)
		if result.ResponseID != "" {
			responseID = result.ResponseID
		}

		if len(result.ToolCalls) == 0 {
			out <- Event{Kind: EventDone, Done: &Done{
				AnswerText: answer.String(),
				Sources:    e.dispatcher.Sources(),
				ResponseID: responseID,
				Model:      e.backend.Model(),
			}}
			return
		}

		outputs, ok := e.executeTools(ctx, req, result.ToolCalls, &steps, out)
		if !ok {
			return
		}

		turn = nextTurn(e.backend, turn, result, outputs, responseID)
	}

	// Tool loop ran away; surface what we have rather than looping on.
	e.obs.Log().Warn().Int("max_turns", req.MaxTurns).Msg("Tool loop reached turn limit")
	out <- Event{Kind: EventDone, Done: &Done{
		AnswerText: answer.String(),
		Sources:    e.dispatcher.Sources(),
		ResponseID: responseID,
		Model:      e.backend.Model(),
	}}
}

// selectSources resolves which sources this call may draw from, with a
// synthesized step pair when auto-routing runs.
func (e *Engine) selectSources(ctx context.Context, req Request, steps *stepCounter, out chan<- Event) (selected []string, rationale string, ok bool) {
	allowed := append([]string(nil), req.AllowedSources...)
	sort.Strings(allowed)

	if !req.AutoRoute || len(allowed) < 2 || e.router == nil {
		return allowed, "", true
	}

	stepID := steps.next()
	out <- Event{Kind: EventStep, Step: &Step{
		StepID:   stepID,
		Status:   StepRunning,
		Label:    "Auto-select sources",
		ToolName: "auto_select_sources",
		Args:     map[string]any{"allowed_sources": allowed},
	}}

	selection, err := e.router.Resolve(ctx, req.Message, allowed)
	if err != nil {
		e.emitCancelled(out)
		return nil, "", false
	}

	selected = selection.Sources
	if len(selected) == 0 {
		selected = allowed
	}
	sort.Strings(selected)

	out <- Event{Kind: EventStep, Step: &Step{
		StepID: stepID,
		Status: StepDone,
		ResultPreview: map[string]any{
			"selected_sources": selected,
			"rationale":        selection.Rationale,
		},
	}}
	return selected, selection.Rationale, true
}

// executeTools runs the turn's tool calls sequentially and returns the
// serialized outputs for resubmission. ok is false when the call was
// cancelled mid-execution.
func (e *Engine) executeTools(ctx context.Context, req Request, calls []provider.ToolCall, steps *stepCounter, out chan<- Event) ([]provider.Message, bool) {
	outputs := make([]provider.Message, 0, len(calls))

	for _, call := range calls {
		if ctx.Err() != nil {
			e.emitCancelled(out)
			return nil, false
		}

		args := call.ParsedArgs()
		if tools.AcceptsDays(call.Name) && req.Days > 0 {
			if _, present := args["days"]; !present {
				args["days"] = req.Days
			}
		}

		stepID := steps.next()
		out <- Event{Kind: EventStep, Step: &Step{
			StepID:   stepID,
			Status:   StepRunning,
			Label:    tools.Label(call.Name, args),
			ToolName: call.Name,
			Args:     args,
		}}

		result, preview := e.dispatcher.Execute(ctx, call.Name, args)
		if ctx.Err() != nil {
			e.emitCancelled(out)
			return nil, false
		}

		safe := tools.PrepareOutput(call.Name, result)

		status := StepDone
		if _, failed := safe["error"]; failed {
			status = StepError
		}
		terminal := &Step{StepID: stepID, Status: status, ResultPreview: preview}
		if call.Name == "search_pdf_memory" {
			query, _ := args["query"].(string)
			terminal.Label = tools.PDFSearchLabel(query, preview)
		}
		out <- Event{Kind: EventStep, Step: terminal}

		if indexed, ok := e.emitIndexStep(preview, steps, out); ok && indexed {
			e.autoMemorySearch(ctx, req, safe, steps, out)
		}

		payload, err := json.Marshal(safe)
		if err != nil {
			payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		outputs = append(outputs, e.backend.ToolOutputMessage(call, string(payload)))
	}
	return outputs, true
}

// emitIndexStep synthesizes a step for a pdf_index side effect reported
// in the tool preview. indexed reports whether fresh content landed in
// memory this call.
func (e *Engine) emitIndexStep(preview map[string]any, steps *stepCounter, out chan<- Event) (indexed, present bool) {
	outcome, ok := preview["pdf_index"].(map[string]any)
	if !ok {
		return false, false
	}

	stepID := steps.next()
	out <- Event{Kind: EventStep, Step: &Step{
		StepID:   stepID,
		Status:   StepRunning,
		Label:    "Index PDF into session memory",
		ToolName: "pdf_index",
	}}

	status := StepDone
	if outcome["status"] == memory.StatusFailed {
		status = StepError
	}
	out <- Event{Kind: EventStep, Step: &Step{
		StepID:        stepID,
		Status:        status,
		ResultPreview: outcome,
	}}

	return outcome["status"] == memory.StatusIndexed, true
}

// autoMemorySearch queries freshly indexed content with the original
// user message and attaches the hits to the tool output so the model
// sees them without having to ask.
func (e *Engine) autoMemorySearch(ctx context.Context, req Request, safe map[string]any, steps *stepCounter, out chan<- Event) {
	if !e.opts.AutoMemorySearch || e.memory == nil {
		return
	}

	stepID := steps.next()
	out <- Event{Kind: EventStep, Step: &Step{
		StepID:   stepID,
		Status:   StepRunning,
		Label:    tools.PDFSearchLabel(req.Message, nil),
		ToolName: "search_pdf_memory",
	}}

	hits := e.memory.Query(ctx, req.SessionID, req.Message, e.opts.MemoryTopK, e.embCfg)

	matches := make([]map[string]any, len(hits))
	for i, hit := range hits {
		matches[i] = map[string]any{
			"text":     hit.Text,
			"score":    hit.Score,
			"metadata": hit.Metadata,
		}
	}
	safe["memory_matches"] = matches

	out <- Event{Kind: EventStep, Step: &Step{
		StepID:        stepID,
		Status:        StepDone,
		ResultPreview: map[string]any{"count": len(hits)},
	}}
}

func (e *Engine) emitCancelled(out chan<- Event) {
	out <- Event{Kind: EventCancelled, Message: "Request cancelled."}
}

// nextTurn builds the continuation submission. Turn-based protocols
// carry only the new tool outputs under the continuation token;
// stateless protocols carry the full accumulated message list.
func nextTurn(backend provider.Backend, current *provider.Turn, result *provider.TurnResult, outputs []provider.Message, responseID string) *provider.Turn {
	if backend.Stateful() {
		return &provider.Turn{
			Instructions: current.Instructions,
			ToolOutputs:  outputs,
			PreviousID:   responseID,
			Tools:        current.Tools,
		}
	}

	messages := append([]provider.Message(nil), current.Messages...)
	messages = append(messages, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   result.Text,
		ToolCalls: result.ToolCalls,
	})
	messages = append(messages, outputs...)
	return &provider.Turn{
		Instructions: current.Instructions,
		Messages:     messages,
		Tools:        current.Tools,
	}
}

// formatUserMessage adds the request's research context to the raw user
// message.
func formatUserMessage(req Request, selected []string, rationale string) string {
	var sb strings.Builder
	sb.WriteString(req.Message)
	sb.WriteString("\n\nResearch context:\n")
	if req.Days > 0 {
		fmt.Fprintf(&sb, "- Time window: last %d days\n", req.Days)
	}
	if len(selected) > 0 {
		names := make([]string, len(selected))
		for i, key := range selected {
			if name := tools.DisplayNames[key]; name != "" {
				names[i] = name
			} else {
				names[i] = key
			}
		}
		sb.WriteString("- Sources: " + strings.Join(names, ", "))
		if rationale != "" {
			sb.WriteString(" (" + rationale + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nPlease search for relevant information and provide a comprehensive answer with citations.")
	return sb.String()
}

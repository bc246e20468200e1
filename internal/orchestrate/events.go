// Package orchestrate runs the model/tool loop for one chat request and
// streams its progress as events: tool steps, answer deltas, and exactly
// one terminal done, error, or cancelled event.
package orchestrate

import (
	"errors"

	"github.com/policyradar/policyradar/internal/provider"
	"github.com/policyradar/policyradar/internal/sources"
)

// Event kinds.
const (
	EventStep           = "step"
	EventAssistantDelta = "assistant_delta"
	EventDone           = "done"
	EventError          = "error"
	EventCancelled      = "cancelled"
)

// Step statuses.
const (
	StepRunning = "running"
	StepDone    = "done"
	StepError   = "error"
)

// Step describes one unit of visible progress. StepID is a stringified
// counter unique within the orchestration call; a running step is always
// followed by exactly one terminal step with the same id.
type Step struct {
	StepID        string         `json:"step_id"`
	Status        string         `json:"status"`
	Label         string         `json:"label,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	ResultPreview map[string]any `json:"result_preview,omitempty"`
}

// Done carries the final answer of a successful call.
type Done struct {
	AnswerText string               `json:"answer_text"`
	Sources    []sources.SourceItem `json:"sources"`
	ResponseID string               `json:"response_id,omitempty"`
	Model      string               `json:"model"`
}

// Error kinds, mirroring the transport error taxonomy.
const (
	ErrKindRateLimited = "rate_limited"
	ErrKindUpstream    = "upstream_error"
	ErrKindBadRequest  = "bad_request"
	ErrKindAborted     = "aborted"
)

// ErrorInfo is the payload of a terminal error event.
type ErrorInfo struct {
	Kind       string  `json:"error"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"` // seconds
	StatusCode int     `json:"status_code,omitempty"`
}

// Event is one item on the stream. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind    string     `json:"event"`
	Step    *Step      `json:"step,omitempty"`
	Delta   string     `json:"delta,omitempty"`
	Done    *Done      `json:"done,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
}

// classifyError maps a transport failure onto the wire taxonomy.
func classifyError(err error) *ErrorInfo {
	var rateLimit *provider.RateLimitError
	if errors.As(err, &rateLimit) {
		return &ErrorInfo{
			Kind:       ErrKindRateLimited,
			Message:    "Rate limited by the model provider. Please try again shortly.",
			RetryAfter: rateLimit.RetryAfter.Seconds(),
		}
	}
	var srcRateLimit *sources.RateLimitError
	if errors.As(err, &srcRateLimit) {
		return &ErrorInfo{
			Kind:       ErrKindRateLimited,
			Message:    "Rate limited by an upstream data source. Please try again shortly.",
			RetryAfter: srcRateLimit.RetryAfter.Seconds(),
		}
	}
	var upstream *provider.UpstreamError
	if errors.As(err, &upstream) {
		return &ErrorInfo{
			Kind:       ErrKindUpstream,
			Message:    upstream.Message,
			StatusCode: upstream.StatusCode,
		}
	}
	var badRequest *provider.BadRequestError
	if errors.As(err, &badRequest) {
		return &ErrorInfo{Kind: ErrKindBadRequest, Message: badRequest.Message}
	}
	if provider.IsAborted(err) {
		return &ErrorInfo{Kind: ErrKindAborted, Message: "Request aborted."}
	}
	return &ErrorInfo{Kind: ErrKindUpstream, Message: err.Error()}
}

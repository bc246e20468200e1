package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ResponsesBackend speaks the OpenAI Responses API over raw HTTP. It is the
// only turn-based protocol here: the server keeps the conversation, so each
// continuation submits just the new tool outputs under previous_response_id.
type ResponsesBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewResponsesBackend(apiKey, baseURL, model string) (*ResponsesBackend, error) {
	if apiKey == "" {
		return nil, &BadRequestError{Message: "OpenAI API key is required"}
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-5.2"
	}
	return &ResponsesBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

func (b *ResponsesBackend) Name() string   { return "openai" }
func (b *ResponsesBackend) Model() string  { return b.model }
func (b *ResponsesBackend) Stateful() bool { return true }

// SetBaseURL overrides the API endpoint (useful for tests).
func (b *ResponsesBackend) SetBaseURL(url string) {
	b.baseURL = strings.TrimRight(url, "/")
}

func (b *ResponsesBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type responsesRequest struct {
	Model              string          `json:"model"`
	Instructions       string          `json:"instructions,omitempty"`
	Input              []any           `json:"input"`
	Tools              []responsesTool `json:"tools,omitempty"`
	ParallelToolCalls  bool            `json:"parallel_tool_calls"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Stream             bool            `json:"stream"`
}

type responsesOutputItem struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Args    string `json:"arguments,omitempty"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

type responsesPayload struct {
	ID     string                `json:"id"`
	Output []responsesOutputItem `json:"output"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *ResponsesBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	input := b.buildInput(turn)

	reqBody := responsesRequest{
		Model:              b.model,
		Instructions:       turn.Instructions,
		Input:              input,
		Tools:              b.buildTools(turn.Tools),
		PreviousResponseID: turn.PreviousID,
		Stream:             true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, classifyStatus(resp.StatusCode, string(msg), resp.Header)
	}

	return b.consumeStream(resp.Body, onDelta)
}

// consumeStream forwards text deltas as they arrive and takes the
// authoritative tool-call list from the final response.completed payload,
// so fragmented argument text is parsed exactly once.
func (b *ResponsesBackend) consumeStream(r io.Reader, onDelta DeltaFunc) (*TurnResult, error) {
	result := &TurnResult{}
	var text strings.Builder
	var failure error

	err := readSSE(r, func(ev sseEvent) error {
		switch ev.name {
		case "response.output_text.delta":
			var d struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.data), &d); err == nil && d.Delta != "" {
				text.WriteString(d.Delta)
				if onDelta != nil {
					onDelta(d.Delta)
				}
			}
		case "response.completed":
			var done struct {
				Response responsesPayload `json:"response"`
			}
			if err := json.Unmarshal([]byte(ev.data), &done); err != nil {
				return fmt.Errorf("failed to decode completed response: %w", err)
			}
			result.ResponseID = done.Response.ID
			result.ToolCalls = append(result.ToolCalls, extractFunctionCalls(done.Response.Output)...)
			if final := extractOutputText(done.Response.Output); final != "" {
				text.Reset()
				text.WriteString(final)
			}
		case "response.failed", "error":
			var e struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
				Message string `json:"message"`
			}
			_ = json.Unmarshal([]byte(ev.data), &e)
			msg := e.Error.Message
			if msg == "" {
				msg = e.Message
			}
			failure = &UpstreamError{StatusCode: http.StatusBadGateway, Message: msg}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	result.Text = text.String()
	if result.ResponseID == "" && len(result.ToolCalls) == 0 && result.Text == "" {
		return nil, errors.New("empty response stream")
	}
	return result, nil
}

func (b *ResponsesBackend) buildInput(turn *Turn) []any {
	// Continuation turns carry only the new tool outputs.
	if turn.PreviousID != "" && len(turn.ToolOutputs) > 0 {
		input := make([]any, 0, len(turn.ToolOutputs))
		for _, m := range turn.ToolOutputs {
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		}
		return input
	}

	input := make([]any, 0, len(turn.Messages))
	for _, m := range turn.Messages {
		switch m.Role {
		case RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		default:
			input = append(input, map[string]any{
				"role":    m.Role,
				"content": m.Content,
			})
		}
	}
	return input
}

func (b *ResponsesBackend) buildTools(tools []Tool) []responsesTool {
	out := make([]responsesTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, responsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": t.Parameters,
				"required":   t.Required,
			},
		})
	}
	return out
}

func extractFunctionCalls(items []responsesOutputItem) []ToolCall {
	var calls []ToolCall
	for _, item := range items {
		if item.Type == "function_call" {
			calls = append(calls, ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: item.Args,
			})
		}
	}
	return calls
}

func extractOutputText(items []responsesOutputItem) string {
	var sb strings.Builder
	for _, item := range items {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicBackend speaks the Anthropic Messages API over raw HTTP with
// SSE streaming. Stateless: every turn resubmits the full conversation.
type AnthropicBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewAnthropicBackend(apiKey, baseURL, model string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, &BadRequestError{Message: "Anthropic API key is required"}
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicBackend{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

func (b *AnthropicBackend) Name() string   { return "anthropic" }
func (b *AnthropicBackend) Model() string  { return b.model }
func (b *AnthropicBackend) Stateful() bool { return false }

// SetBaseURL overrides the API endpoint (useful for tests).
func (b *AnthropicBackend) SetBaseURL(url string) {
	b.baseURL = strings.TrimRight(url, "/")
}

func (b *AnthropicBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

func (b *AnthropicBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	reqBody := anthropicRequest{
		Model:     b.model,
		System:    turn.Instructions,
		Messages:  b.buildMessages(turn.Messages),
		MaxTokens: 8192,
		Tools:     b.buildTools(turn.Tools),
		Stream:    true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

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

func (b *AnthropicBackend) consumeStream(r io.Reader, onDelta DeltaFunc) (*TurnResult, error) {
	// Tool-use input arrives as input_json_delta fragments per block
	// index; each block is parsed as a whole once the stream completes.
	type blockAccum struct {
		kind string
		id   string
		name string
		json strings.Builder
	}
	blocks := map[int]*blockAccum{}
	order := []int{}
	var text strings.Builder
	var messageID string
	var failure error

	err := readSSE(r, func(ev sseEvent) error {
		switch ev.name {
		case "message_start":
			var start struct {
				Message struct {
					ID string `json:"id"`
				} `json:"message"`
			}
			if err := json.Unmarshal([]byte(ev.data), &start); err == nil {
				messageID = start.Message.ID
			}
		case "content_block_start":
			var start struct {
				Index        int                   `json:"index"`
				ContentBlock anthropicContentBlock `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(ev.data), &start); err != nil {
				return nil
			}
			blocks[start.Index] = &blockAccum{
				kind: start.ContentBlock.Type,
				id:   start.ContentBlock.ID,
				name: start.ContentBlock.Name,
			}
			order = append(order, start.Index)
		case "content_block_delta":
			var d struct {
				Index int `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.data), &d); err != nil {
				return nil
			}
			switch d.Delta.Type {
			case "text_delta":
				text.WriteString(d.Delta.Text)
				if onDelta != nil {
					onDelta(d.Delta.Text)
				}
			case "input_json_delta":
				if acc, ok := blocks[d.Index]; ok {
					acc.json.WriteString(d.Delta.PartialJSON)
				}
			}
		case "error":
			var e struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			_ = json.Unmarshal([]byte(ev.data), &e)
			failure = &UpstreamError{StatusCode: http.StatusBadGateway, Message: e.Error.Message}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	result := &TurnResult{Text: text.String(), ResponseID: messageID}
	for _, idx := range order {
		acc := blocks[idx]
		if acc.kind != "tool_use" {
			continue
		}
		args := acc.json.String()
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: args,
		})
	}
	return result, nil
}

func (b *AnthropicBackend) buildMessages(messages []Message) []anthropicMessage {
	var out []anthropicMessage
	for _, m := range messages {
		role := m.Role
		if role == RoleTool {
			role = RoleUser
		}

		var content []anthropicContentBlock
		if m.ToolCallID != "" {
			content = append(content, anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
		} else {
			if m.Content != "" {
				content = append(content, anthropicContentBlock{
					Type: "text",
					Text: m.Content,
				})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == "" {
					input = "{}"
				}
				content = append(content, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(input),
				})
			}
		}

		out = append(out, anthropicMessage{Role: role, Content: content})
	}
	return out
}

func (b *AnthropicBackend) buildTools(tools []Tool) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": t.Parameters,
				"required":   t.Required,
			},
		})
	}
	return out
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatBackend speaks the stateless chat-completions protocol via
// go-openai. A custom base URL makes it serve any OpenAI-compatible
// endpoint, which is how "custom" providers are wired.
type ChatBackend struct {
	client *openai.Client
	name   string
	model  string
}

func NewChatBackend(apiKey, baseURL, model string) (*ChatBackend, error) {
	if apiKey == "" {
		return nil, &BadRequestError{Message: "API key is required"}
	}
	if model == "" {
		model = "gpt-5-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	name := "openai"
	if baseURL != "" {
		cfg.BaseURL = baseURL
		name = "custom"
	}

	return &ChatBackend{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
		model:  model,
	}, nil
}

func (b *ChatBackend) Name() string   { return b.name }
func (b *ChatBackend) Model() string  { return b.model }
func (b *ChatBackend) Stateful() bool { return false }

func (b *ChatBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

func (b *ChatBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turn.Messages)+1)
	if turn.Instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: turn.Instructions,
		})
	}
	for _, m := range turn.Messages {
		msgs = append(msgs, toChatMessage(m))
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: msgs,
		Tools:    b.buildTools(turn.Tools),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer stream.Close()

	// Tool-call argument text arrives in fragments keyed by choice index;
	// concatenate per slot and parse nothing until the stream ends.
	type callAccum struct {
		id   string
		name string
		args strings.Builder
	}
	accums := map[int]*callAccum{}
	var text strings.Builder

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if IsAborted(err) {
				return nil, err
			}
			return nil, classifyOpenAIError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			slot := 0
			if tc.Index != nil {
				slot = *tc.Index
			}
			acc, ok := accums[slot]
			if !ok {
				acc = &callAccum{}
				accums[slot] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}

	slots := make([]int, 0, len(accums))
	for slot := range accums {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	result := &TurnResult{Text: text.String()}
	for _, slot := range slots {
		acc := accums[slot]
		id := acc.id
		if id == "" {
			id = fmt.Sprintf("call_%d", slot)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return result, nil
}

func toChatMessage(m Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:    m.Role,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	if m.ToolCallID != "" {
		msg.Role = openai.ChatMessageRoleTool
		msg.ToolCallID = m.ToolCallID
	}
	return msg
}

func (b *ChatBackend) buildTools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": t.Parameters,
					"required":   t.Required,
				},
			},
		})
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message, nil)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error(), nil)
	}
	return err
}

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaBackend runs turns against a local Ollama server. Stateless: the
// full conversation is resubmitted on every turn.
type OllamaBackend struct {
	client *api.Client
	model  string
}

func NewOllamaBackend(baseURL, model string) (*OllamaBackend, error) {
	if model == "" {
		model = "llama3.2"
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
		if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
			baseURL = envURL
		}
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, &BadRequestError{Message: "invalid ollama base URL: " + baseURL}
	}

	return &OllamaBackend{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
	}, nil
}

func (b *OllamaBackend) Name() string   { return "ollama" }
func (b *OllamaBackend) Model() string  { return b.model }
func (b *OllamaBackend) Stateful() bool { return false }

func (b *OllamaBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

func (b *OllamaBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	apiMsgs := make([]api.Message, 0, len(turn.Messages)+1)
	if turn.Instructions != "" {
		apiMsgs = append(apiMsgs, api.Message{Role: RoleSystem, Content: turn.Instructions})
	}
	for _, m := range turn.Messages {
		apiMsgs = append(apiMsgs, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := true
	req := &api.ChatRequest{
		Model:    b.model,
		Messages: apiMsgs,
		Stream:   &stream,
		Tools:    b.buildTools(turn.Tools),
	}

	var text strings.Builder
	var calls []ToolCall
	err := b.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			text.WriteString(resp.Message.Content)
			if onDelta != nil {
				onDelta(resp.Message.Content)
			}
		}
		for _, tc := range resp.Message.ToolCalls {
			argsBytes, _ := json.Marshal(tc.Function.Arguments)
			calls = append(calls, ToolCall{
				ID:        "call_" + tc.Function.Name,
				Name:      tc.Function.Name,
				Arguments: string(argsBytes),
			})
		}
		return nil
	})
	if err != nil {
		if IsAborted(err) {
			return nil, err
		}
		return nil, &UpstreamError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	return &TurnResult{Text: text.String(), ToolCalls: calls}, nil
}

func (b *OllamaBackend) buildTools(tools []Tool) []api.Tool {
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		props := api.NewToolPropertiesMap()
		for name, raw := range t.Parameters {
			fragment, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			prop := api.ToolProperty{Type: api.PropertyType{"string"}}
			if typ, ok := fragment["type"].(string); ok {
				prop.Type = api.PropertyType{typ}
			}
			if desc, ok := fragment["description"].(string); ok {
				prop.Description = desc
			}
			props.Set(name, prop)
		}
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: props,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}

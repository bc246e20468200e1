package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiBackend speaks the Gemini API through the official SDK. Stateless:
// the full conversation is rebuilt as chat history on every turn.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, &BadRequestError{Message: "Google API key is required"}
	}
	if model == "" {
		model = "gemini-3-flash-preview"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string   { return "gemini" }
func (b *GeminiBackend) Model() string  { return b.model }
func (b *GeminiBackend) Stateful() bool { return false }

func (b *GeminiBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func (b *GeminiBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	model := b.client.GenerativeModel(b.model)
	if turn.Instructions != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(turn.Instructions)},
		}
	}
	if decls := b.buildDeclarations(turn.Tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	history, last := splitConversation(turn.Messages)
	cs := model.StartChat()
	cs.History = history

	var text strings.Builder
	var calls []ToolCall
	iter := cs.SendMessageStream(ctx, last...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if IsAborted(err) {
				return nil, err
			}
			return nil, classifyGeminiError(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				text.WriteString(string(v))
				if onDelta != nil {
					onDelta(string(v))
				}
			case genai.FunctionCall:
				argsBytes, _ := json.Marshal(v.Args)
				// Gemini carries no call id; the function name doubles
				// as the correlation key for the response part.
				calls = append(calls, ToolCall{
					ID:        v.Name,
					Name:      v.Name,
					Arguments: string(argsBytes),
				})
			}
		}
	}

	return &TurnResult{Text: text.String(), ToolCalls: calls}, nil
}

// splitConversation converts messages into chat history plus the parts to
// send now: either the trailing run of tool outputs or the last user text.
func splitConversation(messages []Message) ([]*genai.Content, []genai.Part) {
	cut := len(messages)
	for cut > 0 && messages[cut-1].Role == RoleTool {
		cut--
	}

	var last []genai.Part
	if cut < len(messages) {
		for _, m := range messages[cut:] {
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"output": m.Content}
			}
			last = append(last, genai.FunctionResponse{
				Name:     m.ToolName,
				Response: map[string]any{"result": result},
			})
		}
	} else if cut > 0 {
		cut--
		last = []genai.Part{genai.Text(messages[cut].Content)}
	}

	var history []*genai.Content
	for _, m := range messages[:cut] {
		role := RoleUser
		if m.Role == RoleAssistant {
			role = "model"
		}
		content := &genai.Content{Role: role}
		if m.Role == RoleTool {
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"output": m.Content}
			}
			content.Parts = append(content.Parts, genai.FunctionResponse{
				Name:     m.ToolName,
				Response: map[string]any{"result": result},
			})
		} else {
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, genai.FunctionCall{
					Name: tc.Name,
					Args: tc.ParsedArgs(),
				})
			}
		}
		history = append(history, content)
	}
	return history, last
}

func (b *GeminiBackend) buildDeclarations(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: toGeminiProperties(t.Parameters),
				Required:   t.Required,
			},
		})
	}
	return decls
}

func toGeminiProperties(params map[string]any) map[string]*genai.Schema {
	props := make(map[string]*genai.Schema, len(params))
	for name, raw := range params {
		fragment, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		schema := &genai.Schema{Type: genai.TypeString}
		if typ, ok := fragment["type"].(string); ok {
			switch typ {
			case "integer":
				schema.Type = genai.TypeInteger
			case "number":
				schema.Type = genai.TypeNumber
			case "boolean":
				schema.Type = genai.TypeBoolean
			default:
				schema.Type = genai.TypeString
			}
		}
		if desc, ok := fragment["description"].(string); ok {
			schema.Description = desc
		}
		props[name] = schema
	}
	return props
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message, nil)
	}
	return err
}

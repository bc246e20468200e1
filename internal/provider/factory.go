package provider

import (
	"context"
	"fmt"
)

// Options selects and configures a backend without tying this package to
// the config loader.
type Options struct {
	Provider string // openai | anthropic | gemini | ollama | custom | stub
	Model    string
	APIMode  string // for openai: "responses" (default) or "chat"
	APIKey   string
	BaseURL  string
}

// New builds the backend for the selected provider.
func New(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Provider {
	case "openai", "":
		if opts.APIMode == "chat" {
			return NewChatBackend(opts.APIKey, opts.BaseURL, opts.Model)
		}
		return NewResponsesBackend(opts.APIKey, opts.BaseURL, opts.Model)
	case "custom":
		if opts.BaseURL == "" {
			return nil, &BadRequestError{Message: "custom provider requires a base URL"}
		}
		return NewChatBackend(opts.APIKey, opts.BaseURL, opts.Model)
	case "anthropic":
		return NewAnthropicBackend(opts.APIKey, opts.BaseURL, opts.Model)
	case "gemini":
		return NewGeminiBackend(ctx, opts.APIKey, opts.Model)
	case "ollama":
		return NewOllamaBackend(opts.BaseURL, opts.Model)
	case "stub":
		return NewStubBackend(), nil
	default:
		return nil, &BadRequestError{Message: fmt.Sprintf("unsupported provider: %s", opts.Provider)}
	}
}

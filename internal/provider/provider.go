// Package provider contains the backend adapters that unify structurally
// different LLM wire protocols behind a single turn-submission interface.
// The orchestration loop depends only on Backend, never on a vendor SDK.
package provider

import (
	"context"
	"encoding/json"
)

// Message roles shared across adapters. Each adapter maps these onto its
// own wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one backend-native conversation item: a text span, an
// assistant turn carrying tool-call requests, or a tool-call output.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a structured request from the model to invoke a named
// capability. Arguments holds the raw JSON text exactly as the backend
// emitted it; it may be malformed or partial.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParsedArgs parses Arguments defensively. Invalid JSON degrades to an
// empty mapping rather than failing the turn.
func (c ToolCall) ParsedArgs() map[string]any {
	args := map[string]any{}
	if c.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// Tool declares a capability offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // property name -> JSON-schema fragment
	Required    []string
}

// Turn is one submission to a backend: system instructions, the
// conversation so far, and any tool outputs produced since the previous
// turn. Stateful backends consume only ToolOutputs plus PreviousID;
// stateless backends consume the full Messages list.
type Turn struct {
	Instructions string
	Messages     []Message
	ToolOutputs  []Message
	PreviousID   string
	Tools        []Tool
}

// TurnResult is what a completed turn produced: the concatenated text,
// any pending tool-call requests, and the backend's continuation token.
type TurnResult struct {
	Text       string
	ToolCalls  []ToolCall
	ResponseID string
}

// DeltaFunc receives plain-text deltas as they stream in.
type DeltaFunc func(delta string)

// Backend adapts one LLM wire protocol to the orchestration loop.
type Backend interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Model returns the model identifier this backend submits turns to.
	Model() string

	// Stateful reports whether the protocol supports incremental
	// continuation (resubmitting only new tool outputs under a
	// continuation token) rather than the full message list.
	Stateful() bool

	// SubmitTurn sends the turn and streams the response. onDelta may be
	// nil. Argument text of tool calls arrives in fragments; adapters
	// accumulate per call id and parse only once the turn is complete.
	SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error)

	// ToolOutputMessage wraps a serialized tool result as the conversation
	// item this protocol expects for resubmission.
	ToolOutputMessage(call ToolCall, output string) Message
}

// toolOutput is the shared shape every adapter uses for tool results; the
// adapters translate it to their wire format at submission time.
func toolOutput(call ToolCall, output string) Message {
	return Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

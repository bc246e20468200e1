package provider

import "context"

// StubBackend replays a scripted sequence of turn results. Tests use it to
// drive the orchestration loop without a live backend.
type StubBackend struct {
	Script  []TurnResult
	Err     error
	Turns   []*Turn // every submitted turn, in order
	ModelID string
}

func NewStubBackend(script ...TurnResult) *StubBackend {
	return &StubBackend{Script: script, ModelID: "stub-model"}
}

func (s *StubBackend) Name() string   { return "stub" }
func (s *StubBackend) Model() string  { return s.ModelID }
func (s *StubBackend) Stateful() bool { return false }

func (s *StubBackend) ToolOutputMessage(call ToolCall, output string) Message {
	return toolOutput(call, output)
}

func (s *StubBackend) SubmitTurn(ctx context.Context, turn *Turn, onDelta DeltaFunc) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	s.Turns = append(s.Turns, turn)
	if len(s.Script) == 0 {
		return &TurnResult{Text: "done"}, nil
	}

	next := s.Script[0]
	s.Script = s.Script[1:]
	if next.Text != "" && onDelta != nil {
		onDelta(next.Text)
	}
	return &next, nil
}

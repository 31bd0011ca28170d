package participant

import "context"

// PromptTurn is the transcript slice handed to a generator. It carries plain
// values only so generators never touch shared discussion state.
type PromptTurn struct {
	ParticipantID   ID     `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Type            string `json:"type"`
	Content         string `json:"content"`
}

// PromptContext is everything a participant receives when asked to produce
// its next contribution.
type PromptContext struct {
	SessionID   string         `json:"session_id"`
	Topic       string         `json:"topic"`
	Prompt      string         `json:"prompt"`
	Guidance    []string       `json:"guidance,omitempty"`
	RecentTurns []PromptTurn   `json:"recent_turns,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Result is a successful generation outcome.
type Result struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Generator is the single capability the scheduler requires from a
// participant. Implementations must be safe to call concurrently for
// different participants and must not mutate shared discussion state.
// Failures are returned as errors; the controller logs and skips the turn.
type Generator interface {
	Generate(ctx context.Context, pc PromptContext) (Result, error)
}

// GeneratorFunc adapts a plain function into a Generator.
type GeneratorFunc func(ctx context.Context, pc PromptContext) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, pc PromptContext) (Result, error) {
	return f(ctx, pc)
}

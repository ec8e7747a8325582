package ai

import "context"

// Request is a single system+user prompt exchange.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// Completion is the provider's answer with token accounting.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// ModelIdentity names the provider/model pair that produced a completion.
type ModelIdentity struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (m ModelIdentity) String() string {
	return m.Provider + "/" + m.Model
}

// Provider is a pluggable AI backend.
type Provider interface {
	Identity() ModelIdentity
	Generate(ctx context.Context, req Request) (*Completion, error)
	// Stream forwards text deltas to onChunk as they arrive and returns the
	// accumulated completion.
	Stream(ctx context.Context, req Request, onChunk func(string)) (*Completion, error)
}

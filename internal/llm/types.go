package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAnswer is returned when a provider completes without usable text.
var ErrEmptyAnswer = errors.New("llm returned no answer text")

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

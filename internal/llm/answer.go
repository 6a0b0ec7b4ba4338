package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-guide/internal/config"
)

const queryMarker = "Query: "

// Answerer turns a visitor query into a short spoken answer using the
// configured persona.
type Answerer struct {
	gen         Generator
	persona     string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewAnswerer(gen Generator, cfg config.LLMConfig, logger *slog.Logger) *Answerer {
	return &Answerer{
		gen:         gen,
		persona:     cfg.Persona,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With(slog.String("component", "answerer")),
	}
}

// Prompt is the exact text sent to the provider for query.
func (a *Answerer) Prompt(query string) string {
	return a.persona + "\n\n" + queryMarker + query
}

// Answer returns the provider completion verbatim.
func (a *Answerer) Answer(ctx context.Context, sessionID, query string) (string, error) {
	req := Request{
		SessionID:   sessionID,
		Prompt:      a.Prompt(query),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	var sb strings.Builder
	var usage Chunk
	err := a.gen.Generate(ctx, req, func(chunk Chunk) error {
		sb.WriteString(chunk.Content)
		usage = chunk
		return nil
	})
	if err != nil {
		return "", err
	}
	answer := sb.String()
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyAnswer
	}
	a.logger.Debug("answer generated",
		slog.String("session_id", sessionID),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Duration("latency", usage.Latency))
	return answer, nil
}

// NewGenerator builds the generator selected by cfg.Mode. The returned closer
// is never nil.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, io.Closer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nopCloser{}, nil
	case "gemini":
		g, err := NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nopCloser{}, nil
	case "exec":
		g, err := NewExecGenerator(cfg.Command)
		if err != nil {
			return nil, nil, err
		}
		return g, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

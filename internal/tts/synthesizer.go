package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-guide/internal/artifact"
	"github.com/loqalabs/loqa-guide/internal/config"
)

// Synthesizer renders text into a new primary audio artifact.
type Synthesizer struct {
	provider  Provider
	artifacts *artifact.Store
	logger    *slog.Logger
}

func NewSynthesizer(provider Provider, artifacts *artifact.Store, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		provider:  provider,
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "tts-synthesizer")),
	}
}

// Synthesize allocates a fresh file code and writes the provider stream to
// {code}.{primary_ext}. The artifact exists only if the whole stream was
// written and the file closed cleanly.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	code, err := s.artifacts.NewFileCode()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	stream, err := s.provider.Stream(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("tts provider: %w", err)
	}
	defer stream.Close()

	path, err := s.artifacts.WritePrimary(code, stream)
	if err != nil {
		return Result{}, fmt.Errorf("write audio %s: %w", code, err)
	}
	s.logger.Debug("audio synthesized",
		slog.String("file_code", code),
		slog.Duration("latency", time.Since(start)))
	return Result{FileCode: code, Path: path}, nil
}

// NewProvider builds the provider selected by cfg.Mode.
func NewProvider(cfg config.TTSConfig) (Provider, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockProvider(), nil
	case "elevenlabs":
		return NewElevenLabsProvider(cfg, nil), nil
	case "exec":
		return NewExecProvider(cfg.Command, cfg.VoiceID)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

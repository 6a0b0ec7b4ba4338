package tts

import (
	"context"
	"io"
)

// Provider streams encoded speech audio for a piece of text. The caller
// closes the returned stream; a read error means the audio is incomplete.
type Provider interface {
	Stream(ctx context.Context, text string) (io.ReadCloser, error)
}

// Result names the artifact written by a synthesis call.
type Result struct {
	FileCode string
	Path     string
}

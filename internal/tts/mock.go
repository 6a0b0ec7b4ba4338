package tts

import (
	"bytes"
	"context"
	"io"
	"time"
)

type mockProvider struct{}

// NewMockProvider returns a provider emitting an ID3-tagged placeholder body
// sized by the text length. The bytes are not decodable audio.
func NewMockProvider() Provider { return mockProvider{} }

func (mockProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	header := []byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	body := make([]byte, 418*(1+len([]rune(text))/12))
	return io.NopCloser(io.MultiReader(bytes.NewReader(header), bytes.NewReader(body))), nil
}

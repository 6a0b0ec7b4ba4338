package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	query := req.Prompt
	if idx := strings.LastIndex(query, queryMarker); idx >= 0 {
		query = query[idx+len(queryMarker):]
	}
	content := "Deepiki here. You asked: " + strings.TrimSpace(query) + " I am running in mock mode, so this is a placeholder answer."
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   20 * time.Millisecond,
	})
}

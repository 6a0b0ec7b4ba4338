package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loqalabs/loqa-guide/internal/protocol"
)

// Events publishes guide events on the bus.
type Events struct {
	client *Client
}

func NewEvents(client *Client) *Events {
	return &Events{client: client}
}

func (e *Events) TurnCompleted(_ context.Context, evt protocol.TurnCompleted) error {
	return e.client.Publish(protocol.SubjectTurnCompleted, evt)
}

func (e *Events) TurnFailed(_ context.Context, evt protocol.TurnFailed) error {
	return e.client.Publish(protocol.SubjectTurnFailed, evt)
}

// ReportLocation forwards raw coordinates as received.
func (e *Events) ReportLocation(_ context.Context, coords json.RawMessage) error {
	return e.client.Publish(protocol.SubjectLocationReport, protocol.LocationReport{
		Coords:    coords,
		Timestamp: time.Now().UTC(),
	})
}

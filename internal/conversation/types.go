package conversation

import (
	"context"
	"errors"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ErrInvalidTurn is returned for turns with an unknown role.
var ErrInvalidTurn = errors.New("invalid turn")

// Turn is one immutable message in a session.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is the ordered turn log for one session identifier.
type Session struct {
	ID    string `json:"-"`
	Chats []Turn `json:"chats"`
}

// Store is a durable conversation log driver. Append must persist all turns
// of one call atomically and in order.
type Store interface {
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	// Get returns an empty session when none is stored.
	Get(ctx context.Context, sessionID string) (Session, error)
	Close() error
}

func validateTurns(turns []Turn) error {
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleModel {
			return ErrInvalidTurn
		}
	}
	return nil
}

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-guide/internal/config"
)

// Conversations serializes appends per session on top of a Store driver.
type Conversations struct {
	store          Store
	defaultSession string
	logger         *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New wraps store. An empty defaultSession falls back to "default".
func New(store Store, defaultSession string, logger *slog.Logger) *Conversations {
	if defaultSession == "" {
		defaultSession = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{
		store:          store,
		defaultSession: defaultSession,
		logger:         logger.With(slog.String("component", "conversation")),
		locks:          make(map[string]*sessionLock),
	}
}

// Open builds the driver selected in cfg.
func Open(ctx context.Context, cfg config.ConversationConfig, logger *slog.Logger) (*Conversations, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "file":
		store, err = NewFileStore(cfg.Path)
	case "sqlite":
		store, err = NewSQLiteStore(ctx, cfg.Path)
	case "redis":
		store, err = NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported conversation driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return New(store, cfg.DefaultSession, logger), nil
}

// SessionID returns id, or the default session when id is empty.
func (c *Conversations) SessionID(id string) string {
	if id == "" {
		return c.defaultSession
	}
	return id
}

// AppendTurn appends a single turn.
func (c *Conversations) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	return c.append(ctx, c.SessionID(sessionID), turn)
}

// AppendExchange appends the user query followed by the model answer. Both
// turns become visible together and never interleave with another exchange
// of the same session.
func (c *Conversations) AppendExchange(ctx context.Context, sessionID, query, answer string) error {
	return c.append(ctx, c.SessionID(sessionID),
		Turn{Role: RoleUser, Text: query},
		Turn{Role: RoleModel, Text: answer},
	)
}

func (c *Conversations) append(ctx context.Context, sessionID string, turns ...Turn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	unlock := c.lock(sessionID)
	defer unlock()

	if err := c.store.Append(ctx, sessionID, turns...); err != nil {
		return fmt.Errorf("append session %s: %w", sessionID, err)
	}
	c.logger.Debug("turns appended", slog.String("session_id", sessionID), slog.Int("turns", len(turns)))
	return nil
}

// Session returns the stored turns. An unknown session is empty, not an error.
func (c *Conversations) Session(ctx context.Context, sessionID string) (Session, error) {
	return c.store.Get(ctx, c.SessionID(sessionID))
}

func (c *Conversations) Close() error {
	return c.store.Close()
}

func (c *Conversations) lock(sessionID string) func() {
	c.mu.Lock()
	l := c.locks[sessionID]
	if l == nil {
		l = &sessionLock{}
		c.locks[sessionID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, sessionID)
		}
		c.mu.Unlock()
	}
}

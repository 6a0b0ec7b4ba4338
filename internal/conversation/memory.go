package conversation

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryStore keeps sessions for the lifetime of the process.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string][]Turn)}
}

func (s *memoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turns...)
	return nil
}

func (s *memoryStore) Get(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{ID: sessionID, Chats: append([]Turn{}, s.sessions[sessionID]...)}, nil
}

func (s *memoryStore) Close() error { return nil }

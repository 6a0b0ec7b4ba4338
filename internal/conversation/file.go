package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-guide/internal/artifact"
)

// fileStore keeps every session in one JSON document of the form
// {"<session>": {"chats": [{"role": ..., "text": ...}]}}.
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the document with an empty object if it is missing.
func NewFileStore(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
	}
	s := &fileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string]*Session{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat memory file: %w", err)
	}
	return s, nil
}

func (s *fileStore) read() (map[string]*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	doc := map[string]*Session{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode memory file: %w", err)
	}
	return doc, nil
}

func (s *fileStore) write(doc map[string]*Session) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return artifact.WriteFileAtomic(s.path, bytes.NewReader(data))
}

// Append rewrites the whole document under the store mutex, so appends from
// different sessions are serialized as well.
func (s *fileStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	sess := doc[sessionID]
	if sess == nil {
		sess = &Session{Chats: []Turn{}}
		doc[sessionID] = sess
	}
	sess.Chats = append(sess.Chats, turns...)
	return s.write(doc)
}

func (s *fileStore) Get(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return Session{}, err
	}
	out := Session{ID: sessionID, Chats: []Turn{}}
	if sess := doc[sessionID]; sess != nil {
		out.Chats = append(out.Chats, sess.Chats...)
	}
	return out, nil
}

func (s *fileStore) Close() error { return nil }

package lipsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-guide/internal/artifact"
)

// Repository keeps one JSON track document per file code.
type Repository struct {
	dir string
}

func NewRepository(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lipsync dir: %w", err)
	}
	return &Repository{dir: dir}, nil
}

func (r *Repository) path(code string) string {
	return filepath.Join(r.dir, code+".json")
}

func (r *Repository) Save(code string, track Track) error {
	if !artifact.ValidFileCode(code) {
		return artifact.ErrInvalidFileCode
	}
	data, err := json.Marshal(track)
	if err != nil {
		return err
	}
	return artifact.WriteFileAtomic(r.path(code), bytes.NewReader(data))
}

func (r *Repository) Load(code string) (Track, error) {
	if !artifact.ValidFileCode(code) {
		return Track{}, ErrNotFound
	}
	data, err := os.ReadFile(r.path(code))
	if errors.Is(err, fs.ErrNotExist) {
		return Track{}, ErrNotFound
	}
	if err != nil {
		return Track{}, err
	}
	return Decode(data)
}

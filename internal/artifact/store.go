package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-guide/internal/config"
)

const maxCodeAttempts = 8

var (
	// ErrInvalidFileCode is returned for codes that could escape the artifact directory.
	ErrInvalidFileCode = errors.New("invalid file code")
	// ErrEmptyArtifact is returned when a writer or converter produced no bytes.
	ErrEmptyArtifact = errors.New("empty artifact")
)

// Store names and writes audio artifacts inside a single directory. Files
// are assembled in a sibling staging directory, so the audio directory only
// ever contains complete artifacts.
type Store struct {
	dir          string
	stagingDir   string
	primaryExt   string
	secondaryExt string
	codeLength   int
	newID        func() string
}

// NewStore creates the audio directory and its staging sibling if needed.
func NewStore(cfg config.StorageConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	dir, err := filepath.Abs(cfg.AudioDir)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	staging := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+"-staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	length := cfg.FileCodeLength
	if length <= 0 {
		length = 6
	}
	return &Store{
		dir:          cfg.AudioDir,
		stagingDir:   staging,
		primaryExt:   strings.TrimPrefix(cfg.PrimaryExt, "."),
		secondaryExt: strings.TrimPrefix(cfg.SecondaryExt, "."),
		codeLength:   length,
		newID:        uuid.NewString,
	}, nil
}

func (s *Store) Dir() string          { return s.dir }
func (s *Store) StagingDir() string   { return s.stagingDir }
func (s *Store) PrimaryExt() string   { return s.primaryExt }
func (s *Store) SecondaryExt() string { return s.secondaryExt }

// NewFileCode returns a short code derived from a random UUID that does not
// name an existing primary artifact.
func (s *Store) NewFileCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		id := strings.ReplaceAll(s.newID(), "-", "")
		if len(id) < s.codeLength {
			return "", fmt.Errorf("identifier %q shorter than file code length %d", id, s.codeLength)
		}
		code := id[:s.codeLength]
		if !s.Exists(code, s.primaryExt) {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free file code after %d attempts", maxCodeAttempts)
}

func (s *Store) PrimaryPath(code string) string {
	return s.path(code, s.primaryExt)
}

func (s *Store) SecondaryPath(code string) string {
	return s.path(code, s.secondaryExt)
}

func (s *Store) path(code, ext string) string {
	return filepath.Join(s.dir, code+"."+ext)
}

// Exists reports whether the artifact with the given extension is on disk.
func (s *Store) Exists(code, ext string) bool {
	if !ValidFileCode(code) {
		return false
	}
	info, err := os.Stat(s.path(code, ext))
	return err == nil && info.Mode().IsRegular()
}

// WritePrimary streams r into the primary artifact for code. The file only
// appears under its final name once at least one byte was written and the
// file closed. An empty stream yields ErrEmptyArtifact.
func (s *Store) WritePrimary(code string, r io.Reader) (string, error) {
	if !ValidFileCode(code) {
		return "", ErrInvalidFileCode
	}
	dst := s.PrimaryPath(code)
	if err := writeAtomic(s.stagingDir, dst, r, true); err != nil {
		return "", err
	}
	return dst, nil
}

// StagePath reserves an empty file in the staging directory for an external
// tool to overwrite. Promote moves it into place.
func (s *Store) StagePath(code, ext string) (string, error) {
	if !ValidFileCode(code) {
		return "", ErrInvalidFileCode
	}
	f, err := os.CreateTemp(s.stagingDir, code+".*."+ext)
	if err != nil {
		return "", fmt.Errorf("reserve staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Promote renames a staged file to {code}.{ext}. Empty files are rejected.
func (s *Store) Promote(staged, code, ext string) error {
	if !ValidFileCode(code) {
		return ErrInvalidFileCode
	}
	info, err := os.Stat(staged)
	if err != nil {
		return fmt.Errorf("staged %s: %w", ext, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return fmt.Errorf("staged %s for %s: %w", ext, code, ErrEmptyArtifact)
	}
	if err := os.Rename(staged, s.path(code, ext)); err != nil {
		return fmt.Errorf("promote %s.%s: %w", code, ext, err)
	}
	return nil
}

// WriteFileAtomic copies r into a temp file next to dst and renames it into
// place after a successful close.
func WriteFileAtomic(dst string, r io.Reader) error {
	return writeAtomic(filepath.Dir(dst), dst, r, false)
}

func writeAtomic(tmpDir, dst string, r io.Reader, requireData bool) (err error) {
	tmp, err := os.CreateTemp(tmpDir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}
	if requireData && n == 0 {
		return fmt.Errorf("write %s: %w", filepath.Base(dst), ErrEmptyArtifact)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(dst), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(dst), err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// ValidFileCode accepts 1-32 ASCII letters and digits.
func ValidFileCode(code string) bool {
	if code == "" || len(code) > 32 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

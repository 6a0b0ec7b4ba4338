package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default().Storage
	cfg.AudioDir = filepath.Join(t.TempDir(), "audio")
	s, err := NewStore(cfg)
	require.NoError(t, err)
	return s
}

func TestNewFileCodeIsShortAndUnique(t *testing.T) {
	s := newTestStore(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := s.NewFileCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.True(t, ValidFileCode(code))
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestNewFileCodeSkipsExistingArtifact(t *testing.T) {
	s := newTestStore(t)
	ids := []string{"abcdef00-0000", "abcdef11-1111", "123456ff-ffff"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	_, err := s.WritePrimary("abcdef", strings.NewReader("x"))
	require.NoError(t, err)

	code, err := s.NewFileCode()
	require.NoError(t, err)
	require.Equal(t, "123456", code)
}

func TestWritePrimary(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WritePrimary("abc123", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.Dir(), "abc123.mp3"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "audio-bytes", string(data))
	require.True(t, s.Exists("abc123", "mp3"))
	require.False(t, s.Exists("abc123", "ogg"))
}

type brokenReader struct{ sent bool }

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("stream reset")
}

func TestWritePrimaryLeavesNoPartialFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WritePrimary("abc123", &brokenReader{})
	require.Error(t, err)
	require.False(t, s.Exists("abc123", "mp3"))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries, "temp file should be cleaned up")
	staged, err := os.ReadDir(s.StagingDir())
	require.NoError(t, err)
	require.Empty(t, staged)
}

func TestWritePrimaryRejectsEmptyStream(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WritePrimary("abc123", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyArtifact)
	require.False(t, s.Exists("abc123", "mp3"))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
	staged, err := os.ReadDir(s.StagingDir())
	require.NoError(t, err)
	require.Empty(t, staged)
}

// watchReader reports the audio directory contents while the copy is in flight.
type watchReader struct {
	dir  string
	seen []os.DirEntry
	done bool
}

func (w *watchReader) Read(p []byte) (int, error) {
	if w.done {
		return 0, io.EOF
	}
	w.done = true
	w.seen, _ = os.ReadDir(w.dir)
	return copy(p, "audio"), nil
}

func TestWritePrimaryStagesOutsideAudioDir(t *testing.T) {
	s := newTestStore(t)
	require.NotEqual(t, s.Dir(), s.StagingDir())
	require.Equal(t, filepath.Dir(s.Dir()), filepath.Dir(s.StagingDir()))

	r := &watchReader{dir: s.Dir()}
	_, err := s.WritePrimary("abc123", r)
	require.NoError(t, err)
	require.True(t, r.done)
	require.Empty(t, r.seen, "in-flight write visible in audio dir")
	require.True(t, s.Exists("abc123", "mp3"))
}

func TestStagingDirIsOutsideRelativeAudioDir(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := config.Default().Storage
	cfg.AudioDir = "."
	s, err := NewStore(cfg)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, s.StagingDir())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rel, ".."), "staging dir %s inside audio dir", s.StagingDir())
}

func TestStageAndPromote(t *testing.T) {
	s := newTestStore(t)
	staged, err := s.StagePath("abc123", "ogg")
	require.NoError(t, err)
	require.Equal(t, s.StagingDir(), filepath.Dir(staged))
	require.True(t, strings.HasSuffix(staged, ".ogg"))

	require.ErrorIs(t, s.Promote(staged, "abc123", "ogg"), ErrEmptyArtifact)
	require.False(t, s.Exists("abc123", "ogg"))

	require.NoError(t, os.WriteFile(staged, []byte("ogg"), 0o644))
	require.NoError(t, s.Promote(staged, "abc123", "ogg"))
	require.True(t, s.Exists("abc123", "ogg"))
	_, err = os.Stat(staged)
	require.True(t, os.IsNotExist(err))
}

func TestWritePrimaryRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WritePrimary("../evil", io.LimitReader(strings.NewReader("x"), 1))
	require.ErrorIs(t, err, ErrInvalidFileCode)
}

func TestValidFileCode(t *testing.T) {
	require.True(t, ValidFileCode("a1B2c3"))
	require.False(t, ValidFileCode(""))
	require.False(t, ValidFileCode("ab/cd"))
	require.False(t, ValidFileCode("ab.cd"))
	require.False(t, ValidFileCode(strings.Repeat("a", 33)))
}

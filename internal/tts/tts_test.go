package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-guide/internal/artifact"
	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newArtifacts(t *testing.T) *artifact.Store {
	t.Helper()
	cfg := config.Default().Storage
	cfg.AudioDir = filepath.Join(t.TempDir(), "audio")
	store, err := artifact.NewStore(cfg)
	require.NoError(t, err)
	return store
}

type providerFunc func(ctx context.Context, text string) (io.ReadCloser, error)

func (f providerFunc) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	return f(ctx, text)
}

type failingStream struct{ n int }

func (f *failingStream) Read(p []byte) (int, error) {
	if f.n == 0 {
		f.n++
		return copy(p, "ID3"), nil
	}
	return 0, errors.New("connection reset")
}

func (f *failingStream) Close() error { return nil }

func TestSynthesizerWritesPrimaryArtifact(t *testing.T) {
	store := newArtifacts(t)
	synth := NewSynthesizer(NewMockProvider(), store, newLogger())

	res, err := synth.Synthesize(context.Background(), "The library is north of the bridge.")
	require.NoError(t, err)
	require.Len(t, res.FileCode, 6)
	require.Equal(t, store.PrimaryPath(res.FileCode), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "ID3"))
}

func TestSynthesizerFreshCodePerCall(t *testing.T) {
	synth := NewSynthesizer(NewMockProvider(), newArtifacts(t), newLogger())
	a, err := synth.Synthesize(context.Background(), "same text")
	require.NoError(t, err)
	b, err := synth.Synthesize(context.Background(), "same text")
	require.NoError(t, err)
	require.NotEqual(t, a.FileCode, b.FileCode)
}

func TestSynthesizerStreamFailureLeavesNoArtifact(t *testing.T) {
	store := newArtifacts(t)
	synth := NewSynthesizer(providerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return &failingStream{}, nil
	}), store, newLogger())

	_, err := synth.Synthesize(context.Background(), "text")
	require.Error(t, err)
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSynthesizerEmptyStreamIsAnError(t *testing.T) {
	store := newArtifacts(t)
	synth := NewSynthesizer(providerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	}), store, newLogger())

	res, err := synth.Synthesize(context.Background(), "text")
	require.ErrorIs(t, err, artifact.ErrEmptyArtifact)
	require.Empty(t, res.FileCode)
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSynthesizerProviderError(t *testing.T) {
	synth := NewSynthesizer(providerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("401 unauthorized")
	}), newArtifacts(t), newLogger())
	_, err := synth.Synthesize(context.Background(), "text")
	require.ErrorContains(t, err, "401")
}

func TestElevenLabsProviderRequest(t *testing.T) {
	var (
		gotPath   string
		gotQuery  string
		gotKey    string
		gotBody   elevenLabsRequest
		gotAccept string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, "mp3-bytes")
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().TTS
	cfg.Endpoint = srv.URL
	cfg.APIKey = "secret"
	p := NewElevenLabsProvider(cfg, srv.Client())

	stream, err := p.Stream(context.Background(), "Hello there")
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.Equal(t, "mp3-bytes", string(data))
	require.Equal(t, "/v1/text-to-speech/ecp3DWciuUyW7BYM7II1", gotPath)
	require.Equal(t, "mp3_44100_128", gotQuery)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, "audio/mpeg", gotAccept)
	require.Equal(t, "Hello there", gotBody.Text)
	require.Equal(t, "eleven_multilingual_v2", gotBody.ModelID)
	require.Equal(t, voiceSettings{Stability: 0.55, SimilarityBoost: 0.65, Style: 0.3, UseSpeakerBoost: true, Speed: 0.9}, gotBody.VoiceSettings)
}

func TestElevenLabsProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"invalid api key"}`)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().TTS
	cfg.Endpoint = srv.URL
	_, err := NewElevenLabsProvider(cfg, srv.Client()).Stream(context.Background(), "x")
	require.ErrorContains(t, err, "invalid api key")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tts.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecProviderDecodesChunks(t *testing.T) {
	// "aGVsbG8g" = "hello ", "d29ybGQ=" = "world"
	script := writeScript(t, `cat > /dev/null
echo '{"audio_base64":"aGVsbG8g","final":false}'
echo '{"audio_base64":"d29ybGQ=","final":true}'`)
	p, err := NewExecProvider(script, "voice")
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), "text")
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestExecProviderFailureSurfacesOnRead(t *testing.T) {
	script := writeScript(t, `cat > /dev/null; echo "voice not installed" >&2; exit 1`)
	p, err := NewExecProvider(script, "voice")
	require.NoError(t, err)

	stream, err := p.Stream(context.Background(), "text")
	require.NoError(t, err)
	_, err = io.ReadAll(stream)
	require.ErrorContains(t, err, "voice not installed")
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default().TTS
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	cfg.Mode = "exec"
	cfg.Command = ""
	_, err = NewProvider(cfg)
	require.Error(t, err)
}

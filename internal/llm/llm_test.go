package llm

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

	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingGenerator struct {
	req    Request
	chunks []string
	err    error
}

func (r *recordingGenerator) Generate(_ context.Context, req Request, consumer func(Chunk) error) error {
	r.req = req
	if r.err != nil {
		return r.err
	}
	for i, c := range r.chunks {
		if err := consumer(Chunk{Content: c, Partial: i < len(r.chunks)-1}); err != nil {
			return err
		}
	}
	return nil
}

func TestAnswererComposesPersonaPrompt(t *testing.T) {
	gen := &recordingGenerator{chunks: []string{"The library ", "is north of the bridge."}}
	cfg := config.Default().LLM
	a := NewAnswerer(gen, cfg, newLogger())

	answer, err := a.Answer(context.Background(), "abc", "Where is the library?")
	require.NoError(t, err)
	require.Equal(t, "The library is north of the bridge.", answer)
	require.Equal(t, cfg.Persona+"\n\nQuery: Where is the library?", gen.req.Prompt)
	require.Equal(t, "abc", gen.req.SessionID)
	require.Equal(t, cfg.MaxTokens, gen.req.MaxTokens)
}

func TestAnswererDefaultsSendNoTuning(t *testing.T) {
	gen := &recordingGenerator{chunks: []string{"Two blocks north."}}
	a := NewAnswerer(gen, config.Default().LLM, newLogger())

	_, err := a.Answer(context.Background(), "abc", "Where is the library?")
	require.NoError(t, err)
	require.Zero(t, gen.req.MaxTokens)
	require.Zero(t, gen.req.Temperature)
	require.Equal(t, "You are a AI Tour Guide, name is Deepiki. Answer user query in 2-3 sentences.\n\nQuery: Where is the library?", gen.req.Prompt)
}

func TestAnswererReturnsVerbatimText(t *testing.T) {
	gen := &recordingGenerator{chunks: []string{"  spaced answer\n"}}
	a := NewAnswerer(gen, config.Default().LLM, newLogger())
	answer, err := a.Answer(context.Background(), "s", "q")
	require.NoError(t, err)
	require.Equal(t, "  spaced answer\n", answer)
}

func TestAnswererEmptyAnswer(t *testing.T) {
	gen := &recordingGenerator{chunks: []string{" ", "\n"}}
	a := NewAnswerer(gen, config.Default().LLM, newLogger())
	_, err := a.Answer(context.Background(), "s", "q")
	require.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestAnswererProviderError(t *testing.T) {
	boom := errors.New("quota exceeded")
	a := NewAnswerer(&recordingGenerator{err: boom}, config.Default().LLM, newLogger())
	_, err := a.Answer(context.Background(), "s", "q")
	require.ErrorIs(t, err, boom)
}

func TestMockGeneratorEchoesQuery(t *testing.T) {
	a := NewAnswerer(NewMockGenerator(), config.Default().LLM, newLogger())
	answer, err := a.Answer(context.Background(), "s", "Where is the library?")
	require.NoError(t, err)
	require.Contains(t, answer, "Where is the library?")
	require.NotContains(t, answer, "Deepiki. Answer")
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"response":"Hello ","done":false}`+"\n")
		_, _ = io.WriteString(w, `{"response":"visitor.","done":true,"eval_count":4,"prompt_eval_count":9}`+"\n")
	}))
	t.Cleanup(srv.Close)

	gen := NewOllamaGenerator(srv.URL, "")
	var chunks []Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 32}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.True(t, chunks[0].Partial)
	require.False(t, chunks[1].Partial)
	require.Equal(t, 4, chunks[1].CompletionTokens)
	require.Equal(t, "llama3.2:latest", got.Model)
	require.Equal(t, 32, got.Options.NumPredict)
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	err := NewOllamaGenerator(srv.URL, "m").Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecGenerator(t *testing.T) {
	script := writeScript(t, `cat > /dev/null; echo '{"content":"From the script.","completion_tokens":3}'`)
	gen, err := NewExecGenerator(script)
	require.NoError(t, err)

	var content string
	err = gen.Generate(context.Background(), Request{Prompt: "q"}, func(c Chunk) error {
		content += c.Content
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "From the script.", content)
}

func TestExecGeneratorFailure(t *testing.T) {
	script := writeScript(t, `echo "model missing" >&2; exit 2`)
	gen, err := NewExecGenerator(script)
	require.NoError(t, err)
	err = gen.Generate(context.Background(), Request{Prompt: "q"}, func(Chunk) error { return nil })
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "model missing"))
}

func TestNewGeneratorModes(t *testing.T) {
	cfg := config.Default().LLM
	gen, closer, err := NewGenerator(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, gen)
	require.NoError(t, closer.Close())

	cfg.Mode = "exec"
	cfg.Command = ""
	_, _, err = NewGenerator(context.Background(), cfg)
	require.Error(t, err)

	cfg.Mode = "carrier-pigeon"
	_, _, err = NewGenerator(context.Background(), cfg)
	require.Error(t, err)
}

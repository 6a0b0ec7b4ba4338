package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// redirectTransport sends every request to the test server regardless of
// the host the client resolved.
type redirectTransport struct{ target *url.URL }

func (r redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	req.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	g, err := NewGeminiGenerator(context.Background(), "test-key", "gemini-test",
		option.WithHTTPClient(&http.Client{Transport: redirectTransport{target: target}}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

const geminiReply = `{
  "candidates": [
    {"content": {"role": "model", "parts": [{"text": "The library is "}, {"text": "two blocks north."}]}, "finishReason": 1},
    {"content": {"role": "model", "parts": [{"text": "ignored"}]}, "finishReason": 1}
  ],
  "usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 7}
}`

func TestGeminiGeneratorRequest(t *testing.T) {
	var body map[string]any
	var path string
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		if err == nil {
			err = json.Unmarshal(raw, &body)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, geminiReply)
	})

	var got []Chunk
	err := g.Generate(context.Background(), Request{
		SessionID:   "abc",
		System:      "Be brief.",
		Prompt:      "Where is the library?",
		MaxTokens:   64,
		Temperature: 0.5,
	}, func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "/v1beta/models/gemini-test:generateContent", path)

	require.Len(t, got, 1)
	require.Equal(t, "abc", got[0].SessionID)
	require.Equal(t, "The library is two blocks north.", got[0].Content)
	require.Equal(t, 12, got[0].PromptTokens)
	require.Equal(t, 7, got[0].CompletionTokens)

	cfg, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", body)
	require.EqualValues(t, 64, cfg["maxOutputTokens"])
	require.InDelta(t, 0.5, cfg["temperature"], 0.001)
	require.Contains(t, body, "systemInstruction")

	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
}

func TestGeminiGeneratorLeavesTuningToProvider(t *testing.T) {
	var body map[string]any
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, geminiReply)
	})

	err := g.Generate(context.Background(), Request{Prompt: "Hi"}, func(Chunk) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, body)
	if cfg, ok := body["generationConfig"].(map[string]any); ok {
		require.NotContains(t, cfg, "maxOutputTokens")
		require.NotContains(t, cfg, "temperature")
	}
	require.NotContains(t, body, "systemInstruction")
}

func TestGeminiGeneratorErrorStatus(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`)
	})

	called := false
	err := g.Generate(context.Background(), Request{Prompt: "Hi"}, func(Chunk) error {
		called = true
		return nil
	})
	require.ErrorContains(t, err, "gemini generate")
	require.False(t, called)
}

func TestGeminiGeneratorRequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), " ", "")
	require.ErrorContains(t, err, "api key")
}

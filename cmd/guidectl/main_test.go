package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.yaml")
	data := strings.NewReplacer("DIR", dir).Replace(`
environment: test
storage:
  audio_dir: DIR/audio
  lipsync_dir: DIR/lip-sync
conversation:
  driver: sqlite
  path: DIR/guide.db
`)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, version+"\n", out)
}

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "config valid")

	_, err = run(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAskThenHistory(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "ask", "--config", cfg, "--session", "abc", "Where", "is", "the", "library?")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, true, resp["status"])
	require.Equal(t, "abc", resp["sessionId"])
	require.Len(t, resp["fileCode"], 6)

	out, err = run(t, "history", "--config", cfg, "abc")
	require.NoError(t, err)
	var hist struct {
		SessionID string `json:"sessionId"`
		Chats     []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"chats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	require.Equal(t, "abc", hist.SessionID)
	require.Len(t, hist.Chats, 2)
	require.Equal(t, "user", hist.Chats[0].Role)
	require.Equal(t, "Where is the library?", hist.Chats[0].Text)
	require.Equal(t, "model", hist.Chats[1].Role)
}

func TestAskRequiresText(t *testing.T) {
	_, err := run(t, "ask", "--config", writeConfig(t))
	require.Error(t, err)
}

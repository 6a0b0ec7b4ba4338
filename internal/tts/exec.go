package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execProvider struct {
	cmd   []string
	voice string
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
}

// NewExecProvider runs command once per synthesis, writing the request as
// JSON on stdin and reading NDJSON audio chunks from stdout.
func NewExecProvider(command, voice string) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execProvider{cmd: args, voice: voice}, nil
}

func (e *execProvider) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	data, err := json.Marshal(execRequest{Text: text, Voice: e.voice})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts command: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				_ = cmd.Wait()
				pw.CloseWithError(fmt.Errorf("decode tts chunk: %w", err))
				return
			}
			audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
			if err != nil {
				_ = cmd.Wait()
				pw.CloseWithError(fmt.Errorf("decode tts audio: %w", err))
				return
			}
			if _, err := pw.Write(audio); err != nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
			if resp.Final {
				break
			}
		}
		scanErr := scanner.Err()
		// drain so the process can exit after a final chunk
		_, _ = io.Copy(io.Discard, stdout)
		if err := cmd.Wait(); err != nil {
			pw.CloseWithError(fmt.Errorf("tts command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes())))
			return
		}
		pw.CloseWithError(scanErr)
	}()
	return pr, nil
}

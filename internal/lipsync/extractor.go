package lipsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/mattn/go-shellwords"
)

// Request is the payload handed to the extraction process.
type Request struct {
	Text      string `json:"text"`
	FileCode  string `json:"fileCode"`
	AudioPath string `json:"audioPath,omitempty"`
}

// Extractor derives a mouth cue track from synthesized audio.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Track, error)
}

type execExtractor struct {
	cmd []string
}

// NewExecExtractor runs command with the JSON request appended as the last
// argument and decodes stdout as a Track.
func NewExecExtractor(command string) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse lipsync command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("lipsync command empty")
	}
	return &execExtractor{cmd: args}, nil
}

func (e *execExtractor) Extract(ctx context.Context, req Request) (Track, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Track{}, err
	}
	args := append(append([]string{}, e.cmd[1:]...), string(payload))
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Track{}, fmt.Errorf("%w: %w", ErrProcess, ctxErr)
		}
		return Track{}, fmt.Errorf("%w: %v: %s", ErrProcess, err, bytes.TrimSpace(stderr.Bytes()))
	}
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return Track{}, ErrEmptyOutput
	}
	return Decode(out)
}

type mockExtractor struct{}

// NewMockExtractor derives a plausible cue sequence from the answer text
// without looking at the audio.
func NewMockExtractor() Extractor { return mockExtractor{} }

var mockShapes = []string{"B", "C", "D", "E", "F", "G", "H", "A"}

func (mockExtractor) Extract(ctx context.Context, req Request) (Track, error) {
	if err := ctx.Err(); err != nil {
		return Track{}, err
	}
	const wordSeconds = 0.3
	cues := []Cue{}
	t := 0.0
	for i, word := range strings.FieldsFunc(req.Text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		d := math.Min(wordSeconds+0.02*float64(len(word)), 0.6)
		cues = append(cues, Cue{Start: round2(t), End: round2(t + d), Value: mockShapes[(i+len(word))%len(mockShapes)]})
		t += d
	}
	cues = append(cues, Cue{Start: round2(t), End: round2(t + 0.5), Value: "X"})
	return Track{
		Metadata:  Metadata{SoundFile: req.AudioPath, Duration: round2(t + 0.5)},
		MouthCues: cues,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewExtractor builds the extractor selected by cfg.Mode.
func NewExtractor(cfg config.LipSyncConfig) (Extractor, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockExtractor(), nil
	case "exec":
		return NewExecExtractor(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported lipsync mode %q", cfg.Mode)
	}
}

package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-guide/internal/artifact"
	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/mattn/go-shellwords"
)

// ErrUnavailable means the transcoding tool could not be started.
var ErrUnavailable = errors.New("transcoder unavailable")

// Converter rewrites src into dst using a different container/codec.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

type ffmpegConverter struct {
	cmd     []string
	codec   string
	quality int
}

// NewFFmpegConverter builds ffmpeg invocations of the form
// `<command> -hide_banner -loglevel error -y -i src -c:a codec -q:a quality dst`.
func NewFFmpegConverter(command, codec string, quality int) (Converter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcode command empty")
	}
	return &ffmpegConverter{cmd: args, codec: codec, quality: quality}, nil
}

func (f *ffmpegConverter) Args(src, dst string) []string {
	args := append([]string{}, f.cmd[1:]...)
	args = append(args, "-hide_banner", "-loglevel", "error", "-y", "-i", src, "-c:a", f.codec)
	if f.quality >= 0 {
		args = append(args, "-q:a", strconv.Itoa(f.quality))
	}
	return append(args, dst)
}

func (f *ffmpegConverter) Convert(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.cmd[0], f.Args(src, dst)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("transcode command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

type copyConverter struct{}

// NewCopyConverter copies bytes unchanged. It stands in for ffmpeg in
// development setups.
func NewCopyConverter() Converter { return copyConverter{} }

func (copyConverter) Convert(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return artifact.WriteFileAtomic(dst, io.Reader(in))
}

// Transcoder produces the secondary artifact for a file code.
type Transcoder struct {
	conv      Converter
	artifacts *artifact.Store
	logger    *slog.Logger
}

func NewTranscoder(conv Converter, artifacts *artifact.Store, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		conv:      conv,
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "transcoder")),
	}
}

// Transcode converts {code}.{primary} into {code}.{secondary} and returns the
// secondary path. The tool writes into the staging directory; only non-empty
// output is moved next to the primary. The primary file is left in place on
// failure.
func (t *Transcoder) Transcode(ctx context.Context, code string) (string, error) {
	if !artifact.ValidFileCode(code) {
		return "", artifact.ErrInvalidFileCode
	}
	src := t.artifacts.PrimaryPath(code)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("primary artifact: %w", err)
	}
	ext := t.artifacts.SecondaryExt()
	staged, err := t.artifacts.StagePath(code, ext)
	if err != nil {
		return "", err
	}
	// no-op once promoted
	defer os.Remove(staged)

	start := time.Now()
	if err := t.conv.Convert(ctx, src, staged); err != nil {
		return "", err
	}
	if err := t.artifacts.Promote(staged, code, ext); err != nil {
		return "", fmt.Errorf("transcoder produced no %s output: %w", ext, err)
	}
	dst := t.artifacts.SecondaryPath(code)
	t.logger.Debug("audio transcoded", slog.String("file_code", code), slog.Duration("latency", time.Since(start)))
	return dst, nil
}

// NewConverter builds the converter selected by cfg.Mode.
func NewConverter(cfg config.TranscodeConfig) (Converter, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewCopyConverter(), nil
	case "exec":
		return NewFFmpegConverter(cfg.Command, cfg.Codec, cfg.Quality)
	default:
		return nil, fmt.Errorf("unsupported transcode mode %q", cfg.Mode)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/loqalabs/loqa-guide/internal/lipsync"
	"github.com/loqalabs/loqa-guide/internal/protocol"
	"github.com/loqalabs/loqa-guide/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-guide/pipeline"

// ErrEmptyQuery is returned before any stage runs.
var ErrEmptyQuery = errors.New("empty query")

type AnswerGenerator interface {
	Answer(ctx context.Context, sessionID, query string) (string, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Result, error)
}

type AudioTranscoder interface {
	Transcode(ctx context.Context, fileCode string) (string, error)
}

type LipSyncExtractor interface {
	Extract(ctx context.Context, req lipsync.Request) (lipsync.Track, error)
}

type TrackSaver interface {
	Save(fileCode string, track lipsync.Track) error
}

type MemoryAppender interface {
	SessionID(id string) string
	AppendExchange(ctx context.Context, sessionID, query, answer string) error
}

// Notifier receives run outcomes after they are decided. Its errors never
// change the outcome.
type Notifier interface {
	TurnCompleted(ctx context.Context, evt protocol.TurnCompleted) error
	TurnFailed(ctx context.Context, evt protocol.TurnFailed) error
}

// Options bounds each external stage. A zero timeout disables the bound and
// fewer than two attempts disables retry.
type Options struct {
	GenerationTimeout  time.Duration
	SynthesisTimeout   time.Duration
	TranscodeTimeout   time.Duration
	LipSyncTimeout     time.Duration
	GenerationAttempts int
	SynthesisAttempts  int
	RetryInterval      time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		GenerationTimeout:  time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
		SynthesisTimeout:   time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
		TranscodeTimeout:   time.Duration(cfg.Transcode.TimeoutMS) * time.Millisecond,
		LipSyncTimeout:     time.Duration(cfg.LipSync.TimeoutMS) * time.Millisecond,
		GenerationAttempts: cfg.LLM.MaxAttempts,
		SynthesisAttempts:  cfg.TTS.MaxAttempts,
		RetryInterval:      500 * time.Millisecond,
	}
}

// Components are the stage implementations a Pipeline sequences.
type Components struct {
	Answers    AnswerGenerator
	Speech     SpeechSynthesizer
	Transcoder AudioTranscoder
	LipSync    LipSyncExtractor
	Tracks     TrackSaver
	Memory     MemoryAppender
	Notifier   Notifier
}

type Request struct {
	Text      string
	SessionID string
}

type Result struct {
	SessionID     string
	AnswerText    string
	FileCode      string
	PrimaryPath   string
	SecondaryPath string
	LipSync       lipsync.Track
}

// Pipeline turns one query into an answer, its audio, its lip-sync track and
// a conversation append, strictly in that order.
type Pipeline struct {
	c      Components
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func New(c Components, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if c.Answers == nil || c.Speech == nil || c.Transcoder == nil || c.LipSync == nil || c.Tracks == nil || c.Memory == nil {
		return nil, errors.New("pipeline requires every stage component")
	}
	p := &Pipeline{
		c:      c,
		opts:   opts,
		logger: logger.With(slog.String("component", "pipeline")),
		tracer: otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if p.runs, err = meter.Int64Counter("guide.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome and failing stage")); err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	if p.stageDuration, err = meter.Float64Histogram("guide.pipeline.stage.duration",
		metric.WithDescription("Stage latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create stage histogram: %w", err)
	}
	return p, nil
}

// Run executes one turn. On failure the returned error is a *StageError and
// nothing is appended to the conversation.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	sessionID := p.c.Memory.SessionID(req.SessionID)
	logger := p.logger.With(slog.String("session_id", sessionID))

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	res := Result{SessionID: sessionID}
	fail := func(stage State, kind, err error) (Result, error) {
		serr := &StageError{Stage: stage, Kind: kind, Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, kind.Error())
		p.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", StateFailed.String()),
			attribute.String("stage", stage.String()),
		))
		logger.Error("turn failed",
			slog.String("stage", stage.String()),
			slog.String("error_kind", errorKind(kind)),
			slog.String("file_code", res.FileCode),
			slogError(err))
		p.notifyFailed(ctx, logger, protocol.TurnFailed{
			SessionID:  sessionID,
			Stage:      stage.String(),
			Kind:       errorKind(kind),
			Error:      err.Error(),
			FileCode:   res.FileCode,
			DurationMS: time.Since(started).Milliseconds(),
			Timestamp:  time.Now().UTC(),
		})
		return Result{}, serr
	}

	logger.Debug("turn received", slog.String("state", StateReceived.String()), slog.Int("query_len", len(req.Text)))
	if strings.TrimSpace(req.Text) == "" {
		return fail(StateReceived, ErrGeneration, ErrEmptyQuery)
	}

	answer, err := runStage(ctx, p, StateGeneratingAnswer, p.opts.GenerationTimeout, p.opts.GenerationAttempts,
		func(ctx context.Context) (string, error) {
			return p.c.Answers.Answer(ctx, sessionID, req.Text)
		})
	if err != nil {
		return fail(StateGeneratingAnswer, ErrGeneration, err)
	}
	res.AnswerText = answer

	audio, err := runStage(ctx, p, StateSynthesizingAudio, p.opts.SynthesisTimeout, p.opts.SynthesisAttempts,
		func(ctx context.Context) (tts.Result, error) {
			return p.c.Speech.Synthesize(ctx, answer)
		})
	if err != nil {
		return fail(StateSynthesizingAudio, ErrSynthesis, err)
	}
	res.FileCode = audio.FileCode
	res.PrimaryPath = audio.Path
	logger = logger.With(slog.String("file_code", audio.FileCode))

	secondary, err := runStage(ctx, p, StateTranscoding, p.opts.TranscodeTimeout, 1,
		func(ctx context.Context) (string, error) {
			return p.c.Transcoder.Transcode(ctx, audio.FileCode)
		})
	if err != nil {
		return fail(StateTranscoding, ErrTranscode, err)
	}
	res.SecondaryPath = secondary

	track, err := runStage(ctx, p, StateExtractingLipSync, p.opts.LipSyncTimeout, 1,
		func(ctx context.Context) (lipsync.Track, error) {
			return p.c.LipSync.Extract(ctx, lipsync.Request{
				Text:      answer,
				FileCode:  audio.FileCode,
				AudioPath: secondary,
			})
		})
	if err != nil {
		return fail(StateExtractingLipSync, ErrLipSync, err)
	}
	if err := p.c.Tracks.Save(audio.FileCode, track); err != nil {
		return fail(StateExtractingLipSync, ErrPersistence, err)
	}
	res.LipSync = track

	if _, err := runStage(ctx, p, StatePersistingMemory, 0, 1,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.c.Memory.AppendExchange(ctx, sessionID, req.Text, answer)
		}); err != nil {
		return fail(StatePersistingMemory, ErrPersistence, err)
	}

	elapsed := time.Since(started)
	p.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", StateComplete.String())))
	span.SetAttributes(attribute.String("file_code", res.FileCode))
	logger.Info("turn complete", slog.String("state", StateComplete.String()), slog.Duration("elapsed", elapsed))
	if p.c.Notifier != nil {
		if err := p.c.Notifier.TurnCompleted(ctx, protocol.TurnCompleted{
			SessionID:  sessionID,
			FileCode:   res.FileCode,
			Query:      req.Text,
			Answer:     answer,
			DurationMS: elapsed.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}); err != nil {
			logger.Warn("failed to publish turn completed", slogError(err))
		}
	}
	return res, nil
}

func (p *Pipeline) notifyFailed(ctx context.Context, logger *slog.Logger, evt protocol.TurnFailed) {
	if p.c.Notifier == nil {
		return
	}
	if err := p.c.Notifier.TurnFailed(context.WithoutCancel(ctx), evt); err != nil {
		logger.Warn("failed to publish turn failed", slogError(err))
	}
}

// runStage executes fn under a child span with a per-attempt timeout. Expired
// timeouts always surface as context.DeadlineExceeded.
func runStage[T any](ctx context.Context, p *Pipeline, state State, timeout time.Duration, attempts int, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+strings.ToLower(state.String()))
	defer span.End()
	p.logger.Debug("stage started", slog.String("state", state.String()))

	started := time.Now()
	tries := 0
	attempt := func() (T, error) {
		tries++
		stageCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, err := fn(stageCtx)
		if err == nil {
			return out, nil
		}
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", context.DeadlineExceeded, timeout, err)
		}
		if ctx.Err() != nil {
			return out, backoff.Permanent(err)
		}
		if tries < attempts {
			p.logger.Warn("stage attempt failed, retrying",
				slog.String("state", state.String()), slog.Int("attempt", tries), slogError(err))
		}
		return out, err
	}

	var (
		out T
		err error
	)
	if attempts <= 1 {
		out, err = attempt()
	} else {
		b := backoff.NewExponentialBackOff()
		if p.opts.RetryInterval > 0 {
			b.InitialInterval = p.opts.RetryInterval
		}
		out, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(attempts)))
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	p.stageDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("stage", state.String()),
		attribute.Bool("ok", err == nil),
	))
	span.SetAttributes(attribute.Int("attempts", tries))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

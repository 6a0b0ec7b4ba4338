package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-guide/internal/artifact"
	"github.com/loqalabs/loqa-guide/internal/bus"
	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/loqalabs/loqa-guide/internal/conversation"
	"github.com/loqalabs/loqa-guide/internal/lipsync"
	"github.com/loqalabs/loqa-guide/internal/llm"
	"github.com/loqalabs/loqa-guide/internal/natsserver"
	"github.com/loqalabs/loqa-guide/internal/pipeline"
	"github.com/loqalabs/loqa-guide/internal/server"
	"github.com/loqalabs/loqa-guide/internal/transcode"
	"github.com/loqalabs/loqa-guide/internal/tts"
)

// Components is the assembled guide backend.
type Components struct {
	Artifacts     *artifact.Store
	Tracks        *lipsync.Repository
	Conversations *conversation.Conversations
	Pipeline      *pipeline.Pipeline
	Bus           *bus.Client
	Events        *bus.Events

	embedded  *natsserver.EmbeddedServer
	llmCloser io.Closer
}

// Assemble builds every component selected by cfg. The caller owns Close.
func Assemble(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Artifacts, err = artifact.NewStore(cfg.Storage); err != nil {
		return nil, err
	}
	if c.Tracks, err = lipsync.NewRepository(cfg.Storage.LipSyncDir); err != nil {
		return nil, err
	}
	if c.Conversations, err = conversation.Open(ctx, cfg.Conversation, logger); err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	gen, closer, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("answer generator: %w", err)
	}
	c.llmCloser = closer
	provider, err := tts.NewProvider(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("speech provider: %w", err)
	}
	conv, err := transcode.NewConverter(cfg.Transcode)
	if err != nil {
		return nil, fmt.Errorf("transcoder: %w", err)
	}
	extractor, err := lipsync.NewExtractor(cfg.LipSync)
	if err != nil {
		return nil, fmt.Errorf("lip-sync extractor: %w", err)
	}

	if cfg.Bus.Enabled {
		if c.embedded, err = natsserver.Start(cfg.Bus, logger.With(slog.String("component", "nats"))); err != nil {
			return nil, err
		}
		busCfg := cfg.Bus
		if c.embedded != nil && len(busCfg.Servers) == 0 {
			busCfg.Servers = []string{c.embedded.ClientURL()}
		}
		if c.Bus, err = bus.Connect(ctx, busCfg, logger.With(slog.String("component", "bus"))); err != nil {
			return nil, err
		}
		c.Events = bus.NewEvents(c.Bus)
	}

	comps := pipeline.Components{
		Answers:    llm.NewAnswerer(gen, cfg.LLM, logger),
		Speech:     tts.NewSynthesizer(provider, c.Artifacts, logger),
		Transcoder: transcode.NewTranscoder(conv, c.Artifacts, logger),
		LipSync:    extractor,
		Tracks:     c.Tracks,
		Memory:     c.Conversations,
	}
	if c.Events != nil {
		comps.Notifier = c.Events
	}
	if c.Pipeline, err = pipeline.New(comps, pipeline.OptionsFromConfig(cfg), logger); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases components in reverse dependency order.
func (c *Components) Close() error {
	var errs []error
	if c.Bus != nil {
		c.Bus.Close()
	}
	c.embedded.Shutdown()
	if c.Conversations != nil {
		if err := c.Conversations.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conversation store: %w", err))
		}
	}
	if c.llmCloser != nil {
		if err := c.llmCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close answer generator: %w", err))
		}
	}
	return errors.Join(errs...)
}

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start serves the guide API until ctx is cancelled, then shuts down the
// HTTP server, the components and telemetry in that order.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	comps, err := Assemble(ctx, r.cfg, r.logger)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return fmt.Errorf("failed to assemble components: %w", err)
	}

	deps := server.Deps{
		Pipeline: comps.Pipeline,
		Tracks:   comps.Tracks,
		Sessions: comps.Conversations,
		AudioDir: comps.Artifacts.Dir(),
		Metrics:  metricsHandler,
		Ready:    func() bool { return r.ready.Load() && (comps.Bus == nil || comps.Bus.Healthy()) },
	}
	if comps.Events != nil {
		deps.Locations = comps.Events
	}
	srv, err := server.New(deps, r.cfg.HTTP, r.cfg.Telemetry.MetricsPath, r.logger)
	if err != nil {
		comps.Close()
		_ = shutdownTelemetry(context.Background())
		return err
	}
	r.httpServer = srv.HTTPServer()

	listenErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			listenErr <- err
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.httpServer.Addr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-listenErr:
	}
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	timeout := time.Duration(r.cfg.HTTP.ShutdownTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := comps.Close(); err != nil {
		r.logger.Error("component shutdown error", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return runErr
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/loqalabs/loqa-guide/internal/config"
	"github.com/loqalabs/loqa-guide/internal/conversation"
	"github.com/loqalabs/loqa-guide/internal/lipsync"
	"github.com/loqalabs/loqa-guide/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type TrackLoader interface {
	Load(fileCode string) (lipsync.Track, error)
}

type SessionReader interface {
	Session(ctx context.Context, sessionID string) (conversation.Session, error)
}

type LocationReporter interface {
	ReportLocation(ctx context.Context, coords json.RawMessage) error
}

// Deps are the collaborators behind the HTTP routes. Locations, Metrics and
// Ready are optional.
type Deps struct {
	Pipeline  Runner
	Tracks    TrackLoader
	Sessions  SessionReader
	Locations LocationReporter
	AudioDir  string
	Metrics   http.Handler
	Ready     func() bool
}

type Server struct {
	deps   Deps
	cfg    config.HTTPConfig
	logger *slog.Logger
	engine *gin.Engine
	hits   metric.Int64Counter
}

func New(deps Deps, cfg config.HTTPConfig, metricsPath string, logger *slog.Logger) (*Server, error) {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "http")),
		engine: gin.New(),
	}
	hits, err := otel.Meter("github.com/loqalabs/loqa-guide/server").Int64Counter("guide.http.hits",
		metric.WithDescription("HTTP requests by route and status"))
	if err != nil {
		return nil, fmt.Errorf("create hit counter: %w", err)
	}
	s.hits = hits

	s.engine.Use(s.recovery(), s.accessLog(), s.countHits(), responseHeaders(cfg.ResponseHeaders))
	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
			corsCfg.AllowAllOrigins = true
		} else {
			corsCfg.AllowOrigins = cfg.CORSOrigins
			corsCfg.AllowCredentials = true
		}
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "ngrok-skip-browser-warning")
		if err := corsCfg.Validate(); err != nil {
			return nil, fmt.Errorf("cors: %w", err)
		}
		s.engine.Use(cors.New(corsCfg))
	}

	s.routes(metricsPath)
	return s, nil
}

func (s *Server) routes(metricsPath string) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/readyz", s.handleReady)
	if s.deps.Metrics != nil && metricsPath != "" {
		s.engine.GET(metricsPath, gin.WrapH(s.deps.Metrics))
	}

	s.engine.POST("/ai/talk", s.handleTalk)
	s.engine.GET("/ai/sessions/:sessionId", s.handleSession)
	s.engine.GET("/mouth/talk/:fileCode", s.handleMouth)
	s.engine.POST("/detect/loc", s.handleLocation)
	if s.deps.AudioDir != "" {
		s.engine.Static("/audio", s.deps.AudioDir)
	}
}

// Handler exposes the engine for an http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer builds the listener configuration from cfg.
func (s *Server) HTTPServer() *http.Server {
	timeout := time.Duration(s.cfg.ReadHeaderTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: timeout,
	}
}

// Package http serves the askd turn API.
//
// Routes:
//
//	POST /api/v1/turn  answer one message
//	GET  /health       dependency checks
//	GET  /metrics      Prometheus exposition
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/aggregator"
	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

const healthCheckTimeout = 2 * time.Second

// TurnProcessor answers messages.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, msg conversation.Message, opts ...orchestrator.TurnOption) (*orchestrator.Turn, error)
}

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Checks are run by GET /health, keyed by dependency name.
	Checks map[string]Checker
}

// Server provides HTTP endpoints for askd.
type Server struct {
	echo   *echo.Echo
	turns  TurnProcessor
	locks  *keyedMutex
	logger *zap.Logger
	config *Config
	now    func() time.Time
}

// NewServer creates a new HTTP server. tel may be nil.
func NewServer(turns TurnProcessor, tel *telemetry.Telemetry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if turns == nil {
		return nil, fmt.Errorf("turn processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(tel, logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		turns:  turns,
		locks:  newKeyedMutex(),
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/turn", s.handleTurn)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// TurnRequest is the request body for POST /api/v1/turn.
type TurnRequest struct {
	Text       string `json:"text"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	ChannelID  string `json:"channel_id"`
	ThreadID   string `json:"thread_id,omitempty"`
	IsDirect   bool   `json:"is_direct"`
	IsMention  bool   `json:"is_mention,omitempty"`
	// Progress asks for the progress notes emitted during the turn.
	Progress bool `json:"progress,omitempty"`
}

// TurnResponse is the response body for POST /api/v1/turn.
type TurnResponse struct {
	TurnID          string            `json:"turn_id"`
	ConversationKey string            `json:"conversation_key"`
	Reply           string            `json:"reply"`
	Fallback        bool              `json:"fallback"`
	Bundle          aggregator.Bundle `json:"bundle"`
	Progress        []string          `json:"progress,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.config.Checks) == 0 {
		return c.JSON(http.StatusOK, resp)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	resp.Checks = make(map[string]string, len(s.config.Checks))
	for name, check := range s.config.Checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid turn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	if req.ChannelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id field is required")
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if !logging.ValidRequestID(requestID) {
		requestID = uuid.NewString()
	}
	msg := conversation.Message{
		ID:         requestID,
		Role:       conversation.RoleUser,
		Text:       req.Text,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		ChannelID:  req.ChannelID,
		ThreadID:   req.ThreadID,
		Timestamp:  s.now(),
		IsDirect:   req.IsDirect,
		IsMention:  req.IsMention,
	}
	key, err := conversation.KeyFor(msg)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := logging.WithRequestID(c.Request().Context(), requestID)

	// Turns on one conversation are serialized so each sees the previous
	// turn's history write.
	unlock := s.locks.Lock(key.String())
	defer unlock()
	turnsInFlight.Inc()
	defer turnsInFlight.Dec()

	var notes *noteSink
	var opts []orchestrator.TurnOption
	if req.Progress {
		notes = &noteSink{}
		opts = append(opts, orchestrator.WithSink(notes))
	}

	turn, err := s.turns.ProcessTurn(ctx, msg, opts...)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyMessage) || errors.Is(err, orchestrator.ErrMissingChannel) ||
			errors.Is(err, conversation.ErrInvalidKey) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("turn failed", zap.String("conversation.key", key.String()), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "turn failed")
	}

	resp := TurnResponse{
		TurnID:          turn.ID,
		ConversationKey: turn.Key.String(),
		Reply:           turn.Reply,
		Fallback:        turn.Fallback,
		Bundle:          turn.Bundle,
	}
	if notes != nil {
		resp.Progress = notes.list()
	}
	return c.JSON(http.StatusOK, resp)
}

// noteSink collects progress notes for the response body.
type noteSink struct {
	mu    sync.Mutex
	notes []string
}

func (n *noteSink) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, text)
	return nil
}

func (n *noteSink) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes...)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

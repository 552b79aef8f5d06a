package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/askd/internal/reasoning"

	defaultCallTimeout = 30 * time.Second
	defaultRateLimit   = 5.0
	defaultBurst       = 2
	defaultBaseBackoff = 500 * time.Millisecond
)

// DefaultDiagnosePrompt instructs the model to repair failed tool arguments.
const DefaultDiagnosePrompt = `You repair failed tool calls. You receive a tool name, the JSON arguments
that were used, and the error the tool returned. Reply with a single JSON object:
{"diagnosis": "<one sentence>", "arguments": {<corrected arguments>}}
Keep argument names the tool already uses. Do not add commentary outside the JSON.`

// Config tunes a Service.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	CallTimeout       time.Duration
	MaxRetries        int
}

// Service is the reasoning gateway used by planning, repair and summarization.
type Service struct {
	provider       Provider
	limiter        *rate.Limiter
	timeout        time.Duration
	maxRetries     int
	diagnosePrompt func() string
	tracer         trace.Tracer
	logger         *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDiagnosePrompt supplies the system prompt for Diagnose. It is read on
// every call so reloaded templates take effect.
func WithDiagnosePrompt(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.diagnosePrompt = fn
		}
	}
}

// NewService wraps provider. tel and logger may be nil.
func NewService(provider Provider, cfg Config, tel *telemetry.Telemetry, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	s := &Service{
		provider:       provider,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		timeout:        timeout,
		maxRetries:     max(cfg.MaxRetries, 0),
		diagnosePrompt: func() string { return DefaultDiagnosePrompt },
		tracer:         tel.Tracer(instrumentationName),
		logger:         logger.Named("reasoning"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the underlying provider name.
func (s *Service) Provider() string { return s.provider.Name() }

// Ask sends one system+user exchange and returns the trimmed reply.
func (s *Service) Ask(ctx context.Context, system, user string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "reasoning.ask", trace.WithAttributes(
		attribute.String("reasoning.provider", s.provider.Name()),
		attribute.Int("reasoning.prompt_chars", len(system)+len(user)),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", s.fail(span, ctx.Err())
			}
		}

		text, err := s.complete(ctx, system, user)
		if err == nil {
			span.SetAttributes(attribute.Int("reasoning.reply_chars", len(text)))
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrEmptyResponse) {
			break
		}
		s.logger.Debug("reasoning call failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", s.fail(span, lastErr)
}

func (s *Service) complete(ctx context.Context, system, user string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.provider.Complete(callCtx, system, user)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Diagnose asks the model for corrected arguments after a failed tool call.
// The reply may be {"arguments": {...}} or a bare argument object.
func (s *Service) Diagnose(ctx context.Context, toolID string, args map[string]any, errText string) (map[string]any, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	user := fmt.Sprintf("Tool: %s\nArguments: %s\nError: %s", toolID, encoded, errText)
	reply, err := s.Ask(ctx, s.diagnosePrompt(), user)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := DecodeJSON(reply, &out); err != nil {
		s.logger.Debug("unparseable diagnosis", zap.String("tool", toolID), zap.Int("reply_chars", len(reply)))
		return nil, err
	}

	if nested, ok := out["arguments"].(map[string]any); ok {
		out = nested
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no arguments in diagnosis", ErrMalformedOutput)
	}
	if d, ok := out["diagnosis"]; ok && len(out) == 1 {
		return nil, fmt.Errorf("%w: diagnosis without arguments: %v", ErrMalformedOutput, d)
	}
	delete(out, "diagnosis")
	return out, nil
}

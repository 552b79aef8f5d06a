// Package react drives a single tool action through the act, observe and
// reason loop until it succeeds or is escalated for human follow-up.
package react

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/escalation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/progress"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/askd/internal/react"

	// DefaultMaxAttempts bounds the loop when no configuration is given.
	DefaultMaxAttempts = 5
)

// Invoker makes one normalized tool call.
type Invoker interface {
	Invoke(ctx context.Context, id tools.ID, args map[string]any) tools.Result
}

// Diagnoser proposes corrected arguments for a failed call.
type Diagnoser interface {
	Diagnose(ctx context.Context, toolID string, args map[string]any, errText string) (map[string]any, error)
}

// DiagnoserFunc adapts a function to Diagnoser.
type DiagnoserFunc func(ctx context.Context, toolID string, args map[string]any, errText string) (map[string]any, error)

func (f DiagnoserFunc) Diagnose(ctx context.Context, toolID string, args map[string]any, errText string) (map[string]any, error) {
	return f(ctx, toolID, args, errText)
}

// Config bounds the loop.
type Config struct {
	MaxAttempts int
}

// Engine runs tool actions with reasoning-guided retries.
type Engine struct {
	invoker     Invoker
	diagnoser   Diagnoser
	notifier    escalation.Notifier
	maxAttempts int
	now         func() time.Time

	logger      *zap.Logger
	tracer      trace.Tracer
	attempts    metric.Int64Histogram
	escalations metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier reports every escalated result to n.
func WithNotifier(n escalation.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine creates an engine. diagnoser may be nil, in which case failed
// attempts are retried with unchanged arguments.
func NewEngine(invoker Invoker, diagnoser Diagnoser, cfg Config, tel *telemetry.Telemetry, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	e := &Engine{
		invoker:     invoker,
		diagnoser:   diagnoser,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger.Named("react"),
		tracer:      tel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := tel.Meter(instrumentationName)
	var err error
	e.attempts, err = meter.Int64Histogram("askd.react.attempts",
		metric.WithDescription("Attempts used per tool action"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		e.logger.Warn("attempts histogram unavailable", zap.Error(err))
	}
	e.escalations, err = meter.Int64Counter("askd.react.escalations",
		metric.WithDescription("Tool actions escalated for human follow-up"),
		metric.WithUnit("{action}"))
	if err != nil {
		e.logger.Warn("escalation counter unavailable", zap.Error(err))
	}
	return e
}

// MaxAttempts returns the configured attempt ceiling.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Run drives action to a terminal Result. It never returns a failed Result
// that is not escalated.
func (e *Engine) Run(ctx context.Context, action tools.Action) tools.Result {
	ctx, span := e.tracer.Start(ctx, "react.run",
		trace.WithAttributes(attribute.String("tool.id", string(action.ToolID))))
	defer span.End()

	res := e.run(ctx, action)

	span.SetAttributes(
		attribute.Int("react.attempts", res.AttemptCount),
		attribute.Bool("react.escalated", res.Escalated),
	)
	if res.Escalated {
		span.SetStatus(codes.Error, "escalated")
	}
	if e.attempts != nil {
		e.attempts.Record(ctx, int64(res.AttemptCount), metric.WithAttributes(
			attribute.String("tool.id", string(action.ToolID)),
			attribute.Bool("escalated", res.Escalated),
		))
	}
	return res
}

func (e *Engine) run(ctx context.Context, action tools.Action) tools.Result {
	id := action.ToolID
	args := tools.CloneArguments(action.Arguments)
	emitter := progress.FromContext(ctx)
	start := e.now()

	var history []string
	for attempt := 1; ; attempt++ {
		res := e.invoker.Invoke(ctx, id, args)
		res.ToolID = id
		res.AttemptCount = attempt
		if res.Success {
			if attempt > 1 {
				e.logger.Info("tool action recovered",
					zap.String("tool", string(id)), zap.Int("attempts", attempt))
			}
			return res
		}

		history = append(history, fmt.Sprintf("attempt %d: %s", attempt, res.Error))

		if !res.Failure.Retryable() || ctx.Err() != nil || attempt >= e.maxAttempts {
			return e.escalate(ctx, res, args, history, start)
		}

		emitter.Emit(progress.Retry, "retry_search", string(id))
		args = e.reason(ctx, id, args, res.Error, attempt)
	}
}

// reason asks the diagnoser for corrected arguments, keeping the previous
// ones when diagnosis fails.
func (e *Engine) reason(ctx context.Context, id tools.ID, args map[string]any, errText string, attempt int) map[string]any {
	if e.diagnoser == nil {
		return args
	}
	fixed, err := e.diagnoser.Diagnose(ctx, string(id), tools.CloneArguments(args), errText)
	if err != nil {
		e.logger.Debug("diagnosis failed, retrying with previous arguments",
			zap.String("tool", string(id)), zap.Int("attempt", attempt), zap.Error(err))
		return args
	}
	if len(fixed) == 0 {
		return args
	}
	e.logger.Debug("retrying with corrected arguments",
		zap.String("tool", string(id)), zap.Int("attempt", attempt+1), zap.Any("arguments", fixed))
	return fixed
}

func (e *Engine) escalate(ctx context.Context, last tools.Result, args map[string]any, history []string, start time.Time) tools.Result {
	res := tools.Result{
		ToolID:       last.ToolID,
		Success:      false,
		Error:        strings.Join(history, "\n"),
		Failure:      last.Failure,
		AttemptCount: last.AttemptCount,
		Escalated:    true,
		Duration:     e.now().Sub(start),
	}

	progress.FromContext(ctx).Emit(progress.Error, "escalated", string(res.ToolID))
	if e.escalations != nil {
		e.escalations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool.id", string(res.ToolID)),
			attribute.String("failure", string(res.Failure)),
		))
	}
	e.logger.Warn("tool action escalated",
		zap.String("tool", string(res.ToolID)),
		zap.Int("attempts", res.AttemptCount),
		zap.String("failure", string(res.Failure)))

	if e.notifier != nil {
		// The turn context may already be done; delivery is best effort either way.
		nctx := context.WithoutCancel(ctx)
		err := e.notifier.Notify(nctx, escalation.Escalation{
			TurnID:          logging.TurnIDFromContext(ctx),
			ConversationKey: logging.ConversationKeyFromContext(ctx),
			ToolID:          string(res.ToolID),
			Attempts:        res.AttemptCount,
			Error:           res.Error,
			Arguments:       tools.CloneArguments(args),
			Timestamp:       e.now().UTC(),
		})
		if err != nil {
			e.logger.Warn("escalation notify failed", zap.String("tool", string(res.ToolID)), zap.Error(err))
		}
	}
	return res
}

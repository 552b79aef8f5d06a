package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/askd/internal/tools"

	// DefaultCallTimeout bounds a single backend call.
	DefaultCallTimeout = 20 * time.Second
)

// Redactor scrubs secrets from text.
type Redactor interface {
	Redact(text string) string
}

// Adapter invokes backends and normalizes their outcomes.
type Adapter struct {
	registry *Registry
	timeout  time.Duration
	redactor Redactor
	logger   *zap.Logger
	tracer   trace.Tracer
	calls    metric.Int64Counter
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRedactor scrubs payload strings and error text before they leave the adapter.
func WithRedactor(r Redactor) AdapterOption {
	return func(a *Adapter) { a.redactor = r }
}

// NewAdapter creates an adapter over registry. tel may be nil.
func NewAdapter(registry *Registry, tel *telemetry.Telemetry, logger *zap.Logger, opts ...AdapterOption) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		registry: registry,
		timeout:  DefaultCallTimeout,
		logger:   logger.Named("tools"),
		tracer:   tel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}

	calls, err := tel.Meter(instrumentationName).Int64Counter(
		"askd.tools.invocations",
		metric.WithDescription("Tool backend calls by tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		a.logger.Warn("tool invocation counter unavailable", zap.Error(err))
	}
	a.calls = calls
	return a
}

// Registry returns the adapter's registry.
func (a *Adapter) Registry() *Registry { return a.registry }

// Invoke makes one call to the backend for id. It never panics and never
// returns an error; every outcome is carried by the Result.
func (a *Adapter) Invoke(ctx context.Context, id ID, args map[string]any) Result {
	ctx, span := a.tracer.Start(ctx, "tools.invoke",
		trace.WithAttributes(attribute.String("tool.id", string(id))))
	defer span.End()

	start := time.Now()
	res := a.invoke(ctx, id, args)
	res.Duration = time.Since(start)

	out := outcome(res)
	InvocationsTotal.WithLabelValues(string(id), out).Inc()
	InvocationDuration.WithLabelValues(string(id)).Observe(res.Duration.Seconds())
	if a.calls != nil {
		a.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool.id", string(id)),
			attribute.String("outcome", out),
		))
	}

	span.SetAttributes(attribute.Bool("tool.success", res.Success))
	if !res.Success {
		span.SetAttributes(attribute.String("tool.failure", string(res.Failure)))
		span.SetStatus(codes.Error, res.Error)
		a.logger.Debug("tool call failed",
			zap.String("tool", string(id)),
			zap.String("failure", string(res.Failure)),
			zap.String("error", res.Error),
			zap.Duration("duration", res.Duration))
	}
	return res
}

type callOutcome struct {
	payload any
	err     error
	panic   any
	stack   []byte
}

func (a *Adapter) invoke(ctx context.Context, id ID, args map[string]any) Result {
	backend, err := a.registry.Lookup(id)
	if err != nil {
		return failed(id, FailureUnknownTool, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return failed(id, FailureCanceled, fmt.Sprintf("%s not called: %v", id, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{panic: r, stack: debug.Stack()}
			}
		}()
		payload, err := backend.Call(callCtx, CloneArguments(args))
		done <- callOutcome{payload: payload, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = callOutcome{err: callCtx.Err()}
	}

	switch {
	case out.panic != nil:
		a.logger.Error("tool backend panicked",
			zap.String("tool", string(id)),
			zap.Any("panic", out.panic),
			zap.ByteString("stack", out.stack))
		return failed(id, FailurePanic, a.redact(fmt.Sprintf("%s backend panicked: %v", id, out.panic)))
	case out.err == nil:
		return Result{ToolID: id, Success: true, Payload: a.redactPayload(out.payload)}
	case ctx.Err() != nil:
		return failed(id, FailureCanceled, fmt.Sprintf("%s call abandoned: %v", id, ctx.Err()))
	case errors.Is(out.err, context.DeadlineExceeded):
		return failed(id, FailureTimeout, fmt.Sprintf("%s call timed out after %s", id, a.timeout))
	default:
		return failed(id, FailureBackend, a.redact(out.err.Error()))
	}
}

func failed(id ID, f Failure, msg string) Result {
	return Result{ToolID: id, Failure: f, Error: msg}
}

func (a *Adapter) redact(s string) string {
	if a.redactor == nil {
		return s
	}
	return a.redactor.Redact(s)
}

// redactPayload rebuilds JSON-like payloads with every string scrubbed.
// Other types are returned unchanged.
func (a *Adapter) redactPayload(v any) any {
	if a.redactor == nil {
		return v
	}
	switch t := v.(type) {
	case string:
		return a.redactor.Redact(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = a.redactor.Redact(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = a.redactPayload(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = a.redactPayload(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = a.redactPayload(m).(map[string]any)
		}
		return out
	default:
		return v
	}
}

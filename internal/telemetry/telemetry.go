package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ErrDegraded is reported by Check when a provider could not be built.
var ErrDegraded = errors.New("telemetry degraded")

// Telemetry owns the process tracer and meter providers. A nil *Telemetry is
// valid and hands out the global providers.
type Telemetry struct {
	cfg *Config

	tracers trace.TracerProvider
	meters  metric.MeterProvider
	logs    log.LoggerProvider

	shutdowns []func(context.Context) error
	flushes   []func(context.Context) error

	degraded atomic.Pointer[string]
}

// New builds the providers described by cfg and installs them globally.
// Exporter failures do not fail startup; the instance is marked degraded and
// the affected signal falls back to the global no-op provider.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degrade(err)
	} else {
		t.tracers = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
		t.flushes = append(t.flushes, tp.ForceFlush)
		otel.SetTracerProvider(tp)
	}

	if cfg.Metrics {
		if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
			t.degrade(err)
		} else {
			t.meters = mp
			t.shutdowns = append(t.shutdowns, mp.Shutdown)
			t.flushes = append(t.flushes, mp.ForceFlush)
			otel.SetMeterProvider(mp)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the named instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracers == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracers.Tracer(name, opts...)
}

// Meter returns a meter for the named instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meters == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meters.Meter(name, opts...)
}

// LoggerProvider is the provider handed to the zap bridge, or nil.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logs
}

// SetLoggerProvider attaches a log provider for the zap bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logs = lp
	}
}

// Enabled reports whether export is configured and not degraded.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.cfg != nil && t.cfg.Enabled && t.degraded.Load() == nil
}

// Check is a health check: it fails once any provider has degraded.
func (t *Telemetry) Check(context.Context) error {
	if t == nil {
		return nil
	}
	if reason := t.degraded.Load(); reason != nil {
		return fmt.Errorf("%w: %s", ErrDegraded, *reason)
	}
	return nil
}

// ForceFlush exports everything buffered so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, flush := range t.flushes {
		errs = append(errs, flush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg != nil && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}
	var errs []error
	for _, shutdown := range t.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	t.shutdowns = nil
	t.flushes = nil
	return errors.Join(errs...)
}

func (t *Telemetry) degrade(err error) {
	reason := err.Error()
	t.degraded.Store(&reason)
}

var (
	_ trace.TracerProvider = (*sdktrace.TracerProvider)(nil)
	_ metric.MeterProvider = (*sdkmetric.MeterProvider)(nil)
)

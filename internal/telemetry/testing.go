package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	spans   *tracetest.SpanRecorder
	metrics *sdkmetric.ManualReader
}

// NewTestTelemetry returns telemetry backed by a span recorder and a manual
// metric reader. Nothing is installed globally.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	metrics := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metrics))

	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:       cfg,
			tracers:   tp,
			meters:    mp,
			shutdowns: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
			flushes:   []func(context.Context) error{tp.ForceFlush, mp.ForceFlush},
		},
		spans:   spans,
		metrics: metrics,
	}
}

// Spans returns the ended spans in end order.
func (tt *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return tt.spans.Ended()
}

// Span returns the first ended span with the given name, or nil.
func (tt *TestTelemetry) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range tt.Spans() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (tt *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if tt.Span(name) == nil {
		names := make([]string, 0, len(tt.Spans()))
		for _, s := range tt.Spans() {
			names = append(names, s.Name())
		}
		tb.Errorf("span %q not recorded; have %v", name, names)
	}
}

func (tt *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, want any) {
	tb.Helper()
	s := tt.Span(spanName)
	if s == nil {
		tb.Fatalf("span %q not recorded", spanName)
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := plain(kv.Value); got != want {
			tb.Errorf("span %q attribute %q = %v (%T), want %v (%T)", spanName, key, got, got, want, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", spanName, key)
}

func plain(v attribute.Value) any {
	switch v.Type() {
	case attribute.BOOL:
		return v.AsBool()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.STRING:
		return v.AsString()
	}
	return v.AsInterface()
}

// Int64Sum collects and sums every data point of the named int64 counter.
// An unknown instrument sums to 0.
func (tt *TestTelemetry) Int64Sum(ctx context.Context, name string) int64 {
	var total int64
	tt.each(ctx, name, func(m metricdata.Metrics) {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	})
	return total
}

// HistogramCount collects the named float64 histogram and returns the number
// of recorded observations.
func (tt *TestTelemetry) HistogramCount(ctx context.Context, name string) uint64 {
	var count uint64
	tt.each(ctx, name, func(m metricdata.Metrics) {
		if h, ok := m.Data.(metricdata.Histogram[float64]); ok {
			for _, dp := range h.DataPoints {
				count += dp.Count
			}
		}
	})
	return count
}

func (tt *TestTelemetry) each(ctx context.Context, name string, fn func(metricdata.Metrics)) {
	var rm metricdata.ResourceMetrics
	if err := tt.metrics.Collect(ctx, &rm); err != nil {
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				fn(m)
			}
		}
	}
}

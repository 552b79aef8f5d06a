package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/askd/internal/embeddings"

// Metrics holds embedding instruments. Nil instruments are skipped.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments on tel's meter.
func NewMetrics(tel *telemetry.Telemetry, logger *zap.Logger) *Metrics {
	meter := tel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"askd.embedding.duration",
		metric.WithDescription("Embedding generation latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"askd.embedding.batch_size",
		metric.WithDescription("Texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"askd.embedding.errors",
		metric.WithDescription("Failed embedding requests by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, d time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

type instrumented struct {
	Provider
	model   string
	metrics *Metrics
}

// Instrument wraps p so every call is recorded.
func Instrument(p Provider, model string, tel *telemetry.Telemetry, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{Provider: p, model: model, metrics: NewMetrics(tel, logger)}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	v, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.RecordGeneration(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	return v, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.RecordGeneration(ctx, i.model, "embed_query", time.Since(start), 1, err)
	return v, err
}

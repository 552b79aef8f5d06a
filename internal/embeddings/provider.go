package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/config"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings. It satisfies vectorstore.Embedder.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector size, or 0 when the model is unknown.
	Dimension() int
	Close() error
}

// NewProvider builds the provider named by cfg.Provider and instruments it.
func NewProvider(cfg config.EmbeddingsConfig, tel *telemetry.Telemetry, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai", "":
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
		})
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Named("embeddings").Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()))
	return Instrument(p, cfg.Model, tel, logger), nil
}

// MeasureDimension returns p.Dimension, embedding a short text to measure it
// when the model is unknown.
func MeasureDimension(ctx context.Context, p Provider) (int, error) {
	if d := p.Dimension(); d > 0 {
		return d, nil
	}
	v, err := p.EmbedQuery(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	return len(v), nil
}

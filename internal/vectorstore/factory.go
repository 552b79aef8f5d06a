package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/config"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// NewStore creates the Store named by cfg.Provider:
//   - "chromem" (default): embedded, persisted under cfg.Path
//   - "qdrant": external server over gRPC
//
// vectorSize is the embedder's output dimension, used when a Qdrant
// collection has to be created.
func NewStore(ctx context.Context, cfg config.VectorConfig, vectorSize int, embedder Embedder, tel *telemetry.Telemetry, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
		}, embedder, tel, logger)
	case "qdrant":
		if vectorSize <= 0 {
			return nil, fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, vectorSize)
		}
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Collection,
			VectorSize: uint64(vectorSize),
		}, embedder, tel, logger)
	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}

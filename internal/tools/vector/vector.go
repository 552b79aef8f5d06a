// Package vector exposes knowledge-base similarity search as a tool backend.
package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/tools"
	"github.com/fyrsmithlabs/askd/internal/vectorstore"
)

const (
	// DefaultTopK is used when neither the arguments nor the config set top_k.
	DefaultTopK = 5
	// MaxTopK bounds top_k from planner-supplied arguments.
	MaxTopK = 50
)

// Searcher is the part of vectorstore.Store the backend needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorstore.Hit, error)
}

// Backend answers {query, top_k} with a list of {id, content, score, metadata}.
type Backend struct {
	store  Searcher
	topK   int
	logger *zap.Logger
}

// New creates a backend. topK <= 0 selects DefaultTopK.
func New(store Searcher, topK int, logger *zap.Logger) *Backend {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{store: store, topK: topK, logger: logger.Named("vector")}
}

func (b *Backend) ID() tools.ID { return tools.Vector }

func (b *Backend) Arguments(query string) map[string]any {
	return map[string]any{"query": query, "top_k": b.topK}
}

func (b *Backend) Call(ctx context.Context, args map[string]any) (any, error) {
	query, err := tools.QueryArgument(args)
	if err != nil {
		return nil, err
	}
	k, err := tools.IntArgument(args, "top_k", b.topK)
	if err != nil {
		return nil, err
	}
	if k < 1 || k > MaxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d, got %d", tools.ErrInvalidArgument, MaxTopK, k)
	}

	hits, err := b.store.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	b.logger.Debug("vector search", zap.Int("top_k", k), zap.Int("hits", len(hits)))

	out := make([]map[string]any, len(hits))
	for i, h := range hits {
		md := h.Metadata
		if md == nil {
			md = map[string]any{}
		}
		out[i] = map[string]any{
			"id":       h.ID,
			"content":  h.Content,
			"score":    float64(h.Score),
			"metadata": md,
		}
	}
	return out, nil
}

var _ tools.Backend = (*Backend)(nil)

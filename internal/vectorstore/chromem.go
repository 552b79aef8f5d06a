package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the database in memory.
	Path string
	// Compress gzips the persisted gob files.
	Compress   bool
	Collection string
}

// ChromemStore implements Store using chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	name       string
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewChromemStore opens (or creates) the configured collection.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, tel *telemetry.Telemetry, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	s := &ChromemStore{
		db:       db,
		embedder: embedder,
		name:     cfg.Collection,
		logger:   logger.Named("chromem"),
		tracer:   tel.Tracer(instrumentationName),
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}
	s.collection = collection

	s.logger.Info("chromem store ready",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", collection.Count()),
	)
	return s, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add embeds docs in one batch and stores them.
func (s *ChromemStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.chromem.add",
		trace.WithAttributes(attribute.Int("document_count", len(docs))))
	defer span.End()

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	ids := documentIDs(docs)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	out := make([]chromem.Document, len(docs))
	for i, d := range docs {
		out[i] = chromem.Document{
			ID:        ids[i],
			Content:   d.Content,
			Metadata:  metadataToStrings(d.Metadata),
			Embedding: vectors[i],
		}
	}

	// Embeddings are precomputed, so one worker is enough.
	if err := s.collection.AddDocuments(ctx, out, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("added documents", zap.String("collection", s.name), zap.Int("count", len(docs)))
	return ids, nil
}

// Search queries the collection, capping k at the document count.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.chromem.search",
		trace.WithAttributes(
			attribute.String("collection", s.name),
			attribute.Int("k", k),
		))
	defer span.End()

	if err := validateSearch(query, k); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.name, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: metadataFromStrings(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count() int { return s.collection.Count() }

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error { return nil }

func metadataToStrings(md map[string]any) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func metadataFromStrings(md map[string]string) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

var _ Store = (*ChromemStore)(nil)

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// QdrantConfig holds Qdrant gRPC settings. Port is the gRPC port (6334), not REST.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	// VectorSize is used when the collection has to be created.
	VectorSize uint64

	MaxRetries     int
	RetryBackoff   time.Duration
	MaxMessageSize int
}

// ApplyDefaults sets defaults for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// QdrantStore implements Store against a Qdrant server.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewQdrantStore connects to Qdrant and makes sure the collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, tel *telemetry.Telemetry, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger.Named("qdrant"),
		tracer:   tel.Tracer(instrumentationName),
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.ensureCollection(setupCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if exists {
		return nil
	}

	s.logger.Info("creating qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Uint64("vector_size", s.config.VectorSize))
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && status.Code(err) != grpccodes.AlreadyExists {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch status.Code(err) {
	case grpccodes.Unavailable, grpccodes.ResourceExhausted, grpccodes.Aborted, grpccodes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func (s *QdrantStore) retry(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = fn(); err == nil || !IsTransientError(err) {
			return err
		}
		if attempt == s.config.MaxRetries {
			break
		}
		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, s.config.MaxRetries, err)
}

// Add embeds docs and upserts them. Non-UUID IDs are kept in the payload and
// the point gets a UUID derived from the ID, so re-adding a document replaces it.
func (s *QdrantStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.qdrant.add",
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

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(ids[i])),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: toPayload(ids[i], d),
		}
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}
	return ids, nil
}

// Search embeds query and runs a nearest-neighbour query.
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.qdrant.search",
		trace.WithAttributes(
			attribute.String("collection", s.config.Collection),
			attribute.Int("k", k),
		))
	defer span.End()

	if err := validateSearch(query, k); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	hits := make([]Hit, len(points))
	for i, p := range points {
		hits[i] = fromPayload(p.GetPayload())
		hits[i].Score = p.GetScore()
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// documentIDs returns each document's ID, generating UUIDs for empty ones.
func documentIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		if ids[i] == "" {
			ids[i] = uuid.NewString()
		}
	}
	return ids
}

// pointUUID maps a document ID onto a stable Qdrant point ID.
func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

var _ Store = (*QdrantStore)(nil)

// Package vectorstore provides similarity search over the knowledge base.
//
// Two providers implement Store: chromem-go, an embedded database persisted
// to gob files, and Qdrant over gRPC. Both embed queries through an Embedder
// and return hits ordered by descending similarity.
//
//	store, err := vectorstore.New(ctx, cfg, embedder, tel, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.Search(ctx, "how do I rotate the deploy key", 5)
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

const instrumentationName = "github.com/fyrsmithlabs/askd/internal/vectorstore"

// Sentinel errors for vector store operations.
var (
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrEmptyDocuments        = errors.New("empty or nil documents")
	ErrEmptyQuery            = errors.New("query cannot be empty")
	ErrConnectionFailed      = errors.New("failed to connect to vector store")
	ErrEmbeddingFailed       = errors.New("failed to generate embeddings")
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// MaxQueryLength caps the text embedded for a single search.
const MaxQueryLength = 10000

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a knowledge-base entry to index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Hit is one search result.
type Hit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store indexes documents and answers similarity queries against one collection.
type Store interface {
	// Add embeds and stores docs, returning their IDs.
	Add(ctx context.Context, docs []Document) ([]string, error)
	// Search returns at most k hits ordered by descending score. An empty
	// collection yields no hits and no error.
	Search(ctx context.Context, query string, k int) ([]Hit, error)
	Close() error
}

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateSearch(query string, k int) error {
	if query == "" {
		return ErrEmptyQuery
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("query too long: %d characters (max %d)", len(query), MaxQueryLength)
	}
	if k <= 0 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	return nil
}

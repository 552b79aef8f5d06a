package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/askd/internal/config"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// wordEmbedder hashes words into a fixed number of buckets, so texts sharing
// words are close in cosine space.
type wordEmbedder struct {
	dim   int
	fail  error
	calls int
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (e *wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	return e.vector(text), nil
}

func newChromem(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: path, Collection: "knowledge"}, &wordEmbedder{dim: 64}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var corpus = []Document{
	{ID: "kb-1", Content: "rotate the deploy key from the admin console", Metadata: map[string]any{"space": "ops"}},
	{ID: "kb-2", Content: "vacation policy and holiday calendar", Metadata: map[string]any{"space": "hr"}},
	{ID: "kb-3", Content: "deploy pipeline runs on every merge to main", Metadata: map[string]any{"space": "eng", "rank": 3}},
}

func TestChromemStore_SearchRanksBySimilarity(t *testing.T) {
	s := newChromem(t, "")
	ids, err := s.Add(context.Background(), corpus)
	require.NoError(t, err)
	assert.Equal(t, []string{"kb-1", "kb-2", "kb-3"}, ids)

	hits, err := s.Search(context.Background(), "how do I rotate the deploy key", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "kb-1", hits[0].ID)
	assert.Equal(t, corpus[0].Content, hits[0].Content)
	assert.Equal(t, "ops", hits[0].Metadata["space"])
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestChromemStore_KCappedAtCount(t *testing.T) {
	s := newChromem(t, "")
	_, err := s.Add(context.Background(), corpus)
	require.NoError(t, err)

	hits, err := s.Search(context.Background(), "deploy", 50)
	require.NoError(t, err)
	assert.Len(t, hits, len(corpus))
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	s := newChromem(t, "")
	hits, err := s.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	first := newChromem(t, dir)
	_, err := first.Add(context.Background(), corpus)
	require.NoError(t, err)

	reopened := newChromem(t, dir)
	assert.Equal(t, len(corpus), reopened.Count())
}

func TestChromemStore_Errors(t *testing.T) {
	s := newChromem(t, "")
	ctx := context.Background()

	_, err := s.Add(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)

	_, err = s.Search(ctx, "", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(ctx, "q", 0)
	assert.Error(t, err)

	_, err = s.Search(ctx, strings.Repeat("x", MaxQueryLength+1), 3)
	assert.Error(t, err)

	failing, err := NewChromemStore(ChromemConfig{Collection: "knowledge"}, &wordEmbedder{dim: 8, fail: errors.New("quota")}, nil, nil)
	require.NoError(t, err)
	_, err = failing.Add(ctx, corpus)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestChromemStore_GeneratesMissingIDs(t *testing.T) {
	s := newChromem(t, "")
	ids, err := s.Add(context.Background(), []Document{{Content: "no id here"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])
}

func TestChromemStore_Span(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	s, err := NewChromemStore(ChromemConfig{Collection: "knowledge"}, &wordEmbedder{dim: 16}, tt.Telemetry, nil)
	require.NoError(t, err)
	_, err = s.Add(context.Background(), corpus)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "deploy", 1)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "vectorstore.chromem.add")
	tt.AssertSpanAttribute(t, "vectorstore.chromem.search", "collection", "knowledge")
}

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"knowledge", false},
		{"team_docs_2", false},
		{"", true},
		{"Knowledge", true},
		{"../etc", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCollectionName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := toPayload("kb-3", corpus[2])
	assert.Equal(t, "deploy pipeline runs on every merge to main", payload[payloadContent].GetStringValue())
	assert.Equal(t, int64(3), payload["rank"].GetIntegerValue())

	hit := fromPayload(payload)
	assert.Equal(t, "kb-3", hit.ID)
	assert.Equal(t, corpus[2].Content, hit.Content)
	assert.Equal(t, map[string]any{"space": "eng", "rank": int64(3)}, hit.Metadata)
}

func TestPayload_NestedMetadata(t *testing.T) {
	doc := Document{
		Content: "runbook",
		Metadata: map[string]any{
			"labels": []any{"ops", "oncall"},
			"source": map[string]any{"space": "OPS", "version": 7.5},
			"draft":  false,
			"owner":  nil,
		},
	}
	hit := fromPayload(toPayload("kb-9", doc))

	assert.Equal(t, "kb-9", hit.ID)
	assert.Equal(t, "runbook", hit.Content)
	assert.Equal(t, []any{"ops", "oncall"}, hit.Metadata["labels"])
	assert.Equal(t, map[string]any{"space": "OPS", "version": 7.5}, hit.Metadata["source"])
	assert.Equal(t, false, hit.Metadata["draft"])
	assert.Nil(t, hit.Metadata["owner"])
}

func TestPointUUID(t *testing.T) {
	const u = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	assert.Equal(t, u, pointUUID(u))
	assert.Equal(t, pointUUID("kb-1"), pointUUID("kb-1"), "derived IDs are stable")
	assert.NotEqual(t, pointUUID("kb-1"), pointUUID("kb-2"))
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(context.Canceled))
	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", Port: 6334, Collection: "knowledge", VectorSize: 384}
	assert.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = QdrantConfig{Host: "localhost", Port: 6334, Collection: "Bad Name", VectorSize: 384}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCollectionName)
}

func TestNewStore(t *testing.T) {
	cfg := config.Default().Tools.Vector
	cfg.Path = ""

	s, err := NewStore(context.Background(), cfg, 64, &wordEmbedder{dim: 64}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)

	cfg.Provider = "pinecone"
	_, err = NewStore(context.Background(), cfg, 64, &wordEmbedder{dim: 64}, nil, nil)
	assert.Error(t, err)

	cfg.Provider = "qdrant"
	_, err = NewStore(context.Background(), cfg, 0, &wordEmbedder{dim: 64}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

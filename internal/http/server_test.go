package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/aggregator"
	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// fakeTurns records messages and answers with a canned reply.
type fakeTurns struct {
	mu       sync.Mutex
	messages []conversation.Message
	options  []int
	err      error
	delay    time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeTurns) ProcessTurn(ctx context.Context, msg conversation.Message, opts ...orchestrator.TurnOption) (*orchestrator.Turn, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.maxActive.Load()
		if n <= old || f.maxActive.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.options = append(f.options, len(opts))
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	key, err := conversation.KeyFor(msg)
	if err != nil {
		return nil, err
	}
	return &orchestrator.Turn{
		ID:    "turn-1",
		Key:   key,
		Reply: "echo: " + msg.Text,
		Bundle: aggregator.Bundle{
			Query: msg.Text,
		},
	}, nil
}

func setupTestServer(t *testing.T, turns TurnProcessor, cfg *Config) *Server {
	t.Helper()
	server, err := NewServer(turns, nil, zap.NewNop(), cfg)
	require.NoError(t, err)
	return server
}

func postTurn(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turn", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server := setupTestServer(t, &fakeTurns{}, nil)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeTurns{}, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when processor is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "turn processor cannot be nil")
	})
}

func TestHandleTurn(t *testing.T) {
	t.Run("answers a message", func(t *testing.T) {
		turns := &fakeTurns{}
		server := setupTestServer(t, turns, nil)

		rec := postTurn(t, server, TurnRequest{
			Text:      "how do I rotate the deploy key?",
			AuthorID:  "U1",
			ChannelID: "C1",
			ThreadID:  "1700000000.000100",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "echo: how do I rotate the deploy key?", resp.Reply)
		assert.Equal(t, "conv:C1:1700000000.000100", resp.ConversationKey)
		assert.Equal(t, "how do I rotate the deploy key?", resp.Bundle.Query)

		require.Len(t, turns.messages, 1)
		msg := turns.messages[0]
		assert.Equal(t, conversation.RoleUser, msg.Role)
		assert.Equal(t, "U1", msg.AuthorID)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
		assert.Equal(t, 0, turns.options[0])
	})

	t.Run("top-level message keys on the request id", func(t *testing.T) {
		server := setupTestServer(t, &fakeTurns{}, nil)
		rec := postTurn(t, server, TurnRequest{Text: "hi", ChannelID: "C9"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, strings.HasPrefix(resp.ConversationKey, "conv:C9:"))
	})

	t.Run("progress requests attach a sink", func(t *testing.T) {
		turns := &fakeTurns{}
		server := setupTestServer(t, turns, nil)
		rec := postTurn(t, server, TurnRequest{Text: "hi", ChannelID: "C1", Progress: true})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, turns.options[0])
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		server := setupTestServer(t, &fakeTurns{}, nil)

		tests := []struct {
			name string
			body any
		}{
			{"empty text", TurnRequest{Text: "  ", ChannelID: "C1"}},
			{"missing channel", TurnRequest{Text: "hi"}},
			{"malformed body", "not an object"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := postTurn(t, server, tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("maps processor errors", func(t *testing.T) {
		invalid := setupTestServer(t, &fakeTurns{err: orchestrator.ErrEmptyMessage}, nil)
		assert.Equal(t, http.StatusBadRequest, postTurn(t, invalid, TurnRequest{Text: "x", ChannelID: "C"}).Code)

		broken := setupTestServer(t, &fakeTurns{err: errors.New("boom")}, nil)
		assert.Equal(t, http.StatusInternalServerError, postTurn(t, broken, TurnRequest{Text: "x", ChannelID: "C"}).Code)
	})
}

func TestHandleTurn_SerializesPerConversation(t *testing.T) {
	turns := &fakeTurns{delay: 20 * time.Millisecond}
	server := setupTestServer(t, turns, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postTurn(t, server, TurnRequest{Text: "same thread", ChannelID: "C1", ThreadID: "T1"})
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), turns.maxActive.Load())
	assert.Len(t, turns.messages, 4)
	assert.Zero(t, server.locks.size())
}

func TestHandleHealth(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		server := setupTestServer(t, &fakeTurns{}, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("degraded dependency", func(t *testing.T) {
		server := setupTestServer(t, &fakeTurns{}, &Config{Checks: map[string]Checker{
			"storage": func(context.Context) error { return nil },
			"nats":    func(context.Context) error { return errors.New("connection closed") },
		}})
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, map[string]string{"storage": "ok", "nats": "connection closed"}, resp.Checks)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, &fakeTurns{}, nil)
	postTurn(t, server, TurnRequest{Text: "hi", ChannelID: "C1"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "askd_http_turns_in_flight")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockB()
	assert.Zero(t, k.size())
}

func TestServerLifecycle(t *testing.T) {
	server := setupTestServer(t, &fakeTurns{}, &Config{Host: "127.0.0.1", Port: 0})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	err := <-errCh
	assert.ErrorIs(t, err, http.ErrServerClosed)
}

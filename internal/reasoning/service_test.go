package reasoning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []string
	delay   time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, system, user string) (string, error) {
	p.mu.Lock()
	i := len(p.calls)
	p.calls = append(p.calls, system+"|"+user)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "", nil
}

func newTestService(t *testing.T, p Provider, cfg Config) *Service {
	t.Helper()
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1000
	}
	return NewService(p, cfg, nil, zaptest.NewLogger(t))
}

func TestAsk_TrimsReply(t *testing.T) {
	p := &scriptedProvider{replies: []string{"  hello there \n"}}
	s := newTestService(t, p, Config{})

	got, err := s.Ask(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
	assert.Equal(t, []string{"sys|hi"}, p.calls)
}

func TestAsk_EmptyReply(t *testing.T) {
	p := &scriptedProvider{replies: []string{"   "}}
	s := newTestService(t, p, Config{MaxRetries: 2})

	_, err := s.Ask(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Len(t, p.calls, 1, "empty replies are not retried")
}

func TestAsk_RetriesProviderErrors(t *testing.T) {
	p := &scriptedProvider{
		errs:    []error{errors.New("503 unavailable"), nil},
		replies: []string{"", "ok"},
	}
	s := newTestService(t, p, Config{MaxRetries: 1})

	got, err := s.Ask(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, p.calls, 2)
}

func TestAsk_CallTimeout(t *testing.T) {
	p := &scriptedProvider{delay: time.Second, replies: []string{"late"}}
	s := newTestService(t, p, Config{CallTimeout: 20 * time.Millisecond})

	_, err := s.Ask(context.Background(), "", "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAsk_CancelledContext(t *testing.T) {
	p := &scriptedProvider{replies: []string{"never"}}
	s := newTestService(t, p, Config{MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Ask(ctx, "", "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.calls)
}

func TestAsk_RecordsSpan(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	p := &scriptedProvider{replies: []string{"fine"}}
	s := NewService(p, Config{RequestsPerSecond: 1000}, tt.Telemetry, nil)

	_, err := s.Ask(context.Background(), "", "hi")
	require.NoError(t, err)

	tt.AssertSpanExists(t, "reasoning.ask")
	tt.AssertSpanAttribute(t, "reasoning.ask", "reasoning.provider", "scripted")
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    map[string]any
		wantErr error
	}{
		{
			name:  "wrapped arguments",
			reply: `{"diagnosis": "query too long", "arguments": {"query": "vpn setup"}}`,
			want:  map[string]any{"query": "vpn setup"},
		},
		{
			name:  "bare arguments in fence",
			reply: "Here you go:\n```json\n{\"query\": \"vpn\", \"limit\": 3}\n```",
			want:  map[string]any{"query": "vpn", "limit": float64(3)},
		},
		{
			name:    "prose only",
			reply:   "I cannot help with that.",
			wantErr: ErrMalformedOutput,
		},
		{
			name:    "diagnosis without arguments",
			reply:   `{"diagnosis": "backend is down"}`,
			wantErr: ErrMalformedOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{replies: []string{tt.reply}}
			s := newTestService(t, p, Config{})

			got, err := s.Diagnose(context.Background(), "vector", map[string]any{"query": "how do I set up the vpn on linux"}, "query too long")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, p.calls, 1)
			assert.Contains(t, p.calls[0], "Tool: vector")
			assert.Contains(t, p.calls[0], "Error: query too long")
		})
	}
}

func TestDiagnose_UsesPromptOverride(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"query": "x"}`}}
	s := NewService(p, Config{RequestsPerSecond: 1000}, nil, nil,
		WithDiagnosePrompt(func() string { return "custom" }))

	_, err := s.Diagnose(context.Background(), "web", map[string]any{"query": "y"}, "boom")
	require.NoError(t, err)
	assert.Contains(t, p.calls[0], "custom|")
}

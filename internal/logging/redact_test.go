package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactCore(t *testing.T) {
	r, err := newRedactor(NewDefaultConfig().Redaction)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(r.wrap(core))

	l.With(zap.String("Token", "xoxb-123")).Info("calling provider",
		zap.String("api_key", "sk-live-abcdef"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.Error(errors.New("upstream said api_key=abc123")),
		zap.String("tool", "web"),
		zap.Int("attempt", 2),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, redactedKey, fields["Token"])
	assert.Equal(t, redactedKey, fields["api_key"])
	assert.Equal(t, redactedPattern, fields["header"])
	assert.Equal(t, redactedPattern, fields["error"])
	assert.Equal(t, "web", fields["tool"])
	assert.Equal(t, int64(2), fields["attempt"])
}

func TestRedactor_ScrubLeavesInputAlone(t *testing.T) {
	r, err := newRedactor(NewDefaultConfig().Redaction)
	require.NoError(t, err)

	in := []zapcore.Field{zap.String("tool", "web"), zap.String("password", "hunter2")}
	out := r.scrub(in)
	assert.Equal(t, "hunter2", in[1].String)
	assert.Equal(t, redactedKey, out[1].String)

	clean := []zapcore.Field{zap.String("tool", "web")}
	assert.Equal(t, clean, r.scrub(clean))
}

func TestRedactor_Disabled(t *testing.T) {
	r, err := newRedactor(RedactionConfig{Enabled: false, Patterns: []string{"("}})
	require.NoError(t, err)
	assert.Nil(t, r)

	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, r.wrap(core))
}

func TestRedactor_InvalidPatterns(t *testing.T) {
	_, err := newRedactor(RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)

	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = newRedactor(RedactionConfig{Enabled: true, Patterns: []string{string(long)}})
	assert.ErrorContains(t, err, "longer than")
}

func TestRedacted(t *testing.T) {
	f := Redacted("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

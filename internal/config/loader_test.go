package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.React.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Progress.Debounce)
	assert.Equal(t, 2, cfg.Memory.PreserveRecent)
	assert.Equal(t, "gemini", cfg.Reasoning.Provider)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "askd.escalations", cfg.Escalation.Subject)
}

func TestLoadWithFile_YAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `
server:
  port: 8088
memory:
  budget_tokens: 1200
react:
  max_attempts: 3
tools:
  call_timeout: 5s
  web:
    enabled: true
    api_key: pplx-abc
reasoning:
  provider: openai
  model: gpt-4o-mini
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 1200, cfg.Memory.BudgetTokens)
	assert.Equal(t, 3, cfg.React.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Tools.CallTimeout)
	assert.True(t, cfg.Tools.Web.Enabled)
	assert.Equal(t, "pplx-abc", cfg.Tools.Web.APIKey.Value())
	assert.Equal(t, "https://api.perplexity.ai", cfg.Tools.Web.BaseURL, "unset keys keep defaults")
	assert.Equal(t, "openai", cfg.Reasoning.Provider)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "memory:\n  budget_tokens: 1200\n")

	t.Setenv("ASKD_MEMORY_BUDGET_TOKENS", "900")
	t.Setenv("ASKD_TURN_TIMEOUT", "15s")
	t.Setenv("ASKD_TOOLS__ATLASSIAN__ENDPOINT", "http://localhost:9000/mcp")
	t.Setenv("ASKD_TOOLS__ATLASSIAN__ENABLED", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 900, cfg.Memory.BudgetTokens)
	assert.Equal(t, 15*time.Second, cfg.Turn.Timeout)
	assert.True(t, cfg.Tools.Atlassian.Enabled)
	assert.Equal(t, "http://localhost:9000/mcp", cfg.Tools.Atlassian.Endpoint)
}

func TestLoadWithFile_ExplicitMissingFile(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "react:\n  max_attempts: 0\nstorage:\n  backend: redis\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "react.max_attempts")
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ASKD_MEMORY_BUDGET_TOKENS", "memory.budget_tokens"},
		{"ASKD_REASONING_API_KEY", "reasoning.api_key"},
		{"ASKD_TOOLS__WEB__API_KEY", "tools.web.api_key"},
		{"ASKD_STORAGE", "storage"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.False(t, Secret("").IsSet())
}

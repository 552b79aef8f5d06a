package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// chatServer answers every OpenAI-compatible chat completion with reply.
func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig points the command at a temp config file and restores the flag afterwards.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`reasoning:
  provider: openai
  model: test-model
  planner_model: test-model
  api_key: sk-test
  base_url: %s
tools:
  vector:
    enabled: false
storage:
  backend: sqlite
  path: %s
`, baseURL, filepath.Join(dir, "askd.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
	return path
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestLoadConfig_Quiet(t *testing.T) {
	writeConfig(t, "http://127.0.0.1:1")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Reasoning.Provider)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Output.Stderr)
	assert.False(t, cfg.Logging.Output.Stdout)
}

func TestNewApp_EndToEnd(t *testing.T) {
	srv := chatServer(t, "  Deploy keys rotate from the ops console.  ")
	writeConfig(t, srv.URL)
	ctx := context.Background()

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.close(ctx)) }()

	assert.Contains(t, a.checks, "storage")
	assert.NoError(t, a.checks["storage"](ctx))

	msg := conversation.Message{
		ID:        "m1",
		Text:      "how do I rotate the deploy key?",
		AuthorID:  "U1",
		ChannelID: "cli",
		ThreadID:  "t1",
		Timestamp: time.Now(),
		IsDirect:  true,
	}
	turn, err := a.orchestrator.ProcessTurn(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "Deploy keys rotate from the ops console.", turn.Reply)

	history, err := a.store.Read(ctx, turn.Key, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, msg.Text, history[0].Text)
	assert.Equal(t, turn.Reply, history[1].Text)
}

func TestAskCmd(t *testing.T) {
	srv := chatServer(t, "Use the ops console.")
	path := writeConfig(t, srv.URL)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "ask", "rotate", "deploy", "key"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "Use the ops console.\n", out.String())
}

func TestChunkText(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\r\n\r\n\n\nThird."

	assert.Equal(t, []string{"First paragraph.\n\nSecond paragraph.\n\nThird."}, chunkText(text, 1000))
	assert.Equal(t, []string{"First paragraph.", "Second paragraph.", "Third."}, chunkText(text, 20))
	assert.Empty(t, chunkText("  \n\n ", 10))

	long := strings.Repeat("é", 10)
	chunks := chunkText(long, 6)
	assert.Equal(t, []string{"ééé", "ééé", "ééé", "é"}, chunks)
}

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runbook.md")
	require.NoError(t, os.WriteFile(path, []byte("Rotate keys.\n\nRestart pods."), 0o600))

	docs, err := readDocuments(nil, path, 15)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, path+"#1", docs[1].ID)
	assert.Equal(t, "Restart pods.", docs[1].Content)
	assert.Equal(t, "runbook", docs[0].Metadata["title"])

	docs, err = readDocuments(strings.NewReader("from stdin"), "-", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "stdin#0", docs[0].ID)

	_, err = readDocuments(nil, filepath.Join(dir, "missing.txt"), 0)
	assert.Error(t, err)
}

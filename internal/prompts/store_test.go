package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writePrompts(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil)
	def := Default()

	assert.Equal(t, def, s.Current())
	assert.Contains(t, s.Planner(), "tools_needed")
	assert.NotEmpty(t, s.Response())
	assert.NotEmpty(t, s.Summary())
	assert.Contains(t, s.Diagnose(), "arguments")
}

func TestLoad_EmptyPath(t *testing.T) {
	s, err := Load("", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), s.Current())
	assert.NoError(t, s.Watch(context.Background()), "watching without a file is a no-op")
	assert.NoError(t, s.Close())
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "version: \"7\"\nresponse: |\n  Answer like a pirate.\n")

	s, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "7", s.Current().Version)
	assert.Equal(t, "Answer like a pirate.\n", s.Response())
	assert.Equal(t, Default().Planner, s.Planner())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writePrompts(t, bad, "planner: [unclosed")
	_, err = Load(bad, nil)
	assert.Error(t, err)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "planner: first\n")

	s, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, "first", s.Planner())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Close()

	writePrompts(t, path, "planner: second\n")

	assert.Eventually(t, func() bool { return s.Planner() == "second" }, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_BadEditKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "summary: stable\n")

	s, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Watch(context.Background()))
	defer s.Close()

	writePrompts(t, path, "summary: [broken")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "stable", s.Summary())
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "planner: x\n")

	s, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Watch(context.Background()))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestLoad_EmptyFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePrompts(t, path, "")

	_, err := Load(path, nil)
	assert.Error(t, err)
}

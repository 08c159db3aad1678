package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8765", cfg.ServerAddr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "deepseek-r1:14b", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 30, cfg.MaxSteps)
	assert.True(t, cfg.ClearBansOnNewTask)
	assert.Equal(t, 90*time.Second, cfg.OracleTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9000"
max_retries: 2
llm:
  provider: anthropic
  model: claude-sonnet-4-5-20250929
  api_key: test-key
clear_bans_on_new_task: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.False(t, cfg.ClearBansOnNewTask)
	// Untouched keys keep defaults.
	assert.Equal(t, 30, cfg.MaxSteps)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BRAIN_SERVER_ADDR", ":7777")
	t.Setenv("BRAIN_LLM_MODEL", "qwen2.5:7b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ServerAddr)
	assert.Equal(t, "qwen2.5:7b", cfg.LLM.Model)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 0\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: gemini\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

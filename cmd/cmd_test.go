package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsagent/config"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func sandbox(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	return t.TempDir()
}

func TestExecJSON(t *testing.T) {
	ws := sandbox(t)

	err := run(t, "exec", "--workspace", ws, "--yes", "--json", `{"type":"create_file","path":"notes/a.txt","content":"hi"}`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	err = run(t, "exec", "--workspace", ws, "--yes", "--json", `{"type":"read_file","path":"missing.txt"}`)
	assert.Error(t, err)
}

func TestConfigSet(t *testing.T) {
	ws := sandbox(t)

	require.NoError(t, run(t, "config", "set", "--workspace", ws, "max_undo", "10"))
	cfg, err := config.LoadConfig(ws)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxUndo)

	require.NoError(t, run(t, "config", "set", "--workspace", ws, "api_key", "sk-test-key-123456"))
	local, err := os.ReadFile(filepath.Join(ws, ".fsagent", "config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(local), "sk-test-key-123456")

	cfg, err = config.LoadConfig(ws)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key-123456", cfg.APIKey)

	assert.Error(t, run(t, "config", "set", "--workspace", ws, "max_undo", "0"))
	assert.Error(t, run(t, "config", "set", "--workspace", ws, "colour", "blue"))
}

func TestBackupsCleanupWithoutBackups(t *testing.T) {
	ws := sandbox(t)
	assert.NoError(t, run(t, "backups", "list", "--workspace", ws))
	assert.NoError(t, run(t, "backups", "cleanup", "--workspace", ws, "--dry-run"))
}

func TestDisplayMasksAPIKey(t *testing.T) {
	assert.Equal(t, "(unset)", display("api_key", ""))
	assert.Equal(t, "********", display("api_key", "short"))
	assert.Equal(t, "sk-t…3456", display("api_key", "sk-test-key-123456"))
	assert.Equal(t, 50, display("max_undo", 50))
}

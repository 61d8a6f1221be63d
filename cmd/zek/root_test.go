package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/zek/internal/config"
	"github.com/Dicklesworthstone/zek/internal/export"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand_FlagOverridesDefault(t *testing.T) {
	out, err := execute(t, "config", "--interval", "250ms")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 250ms")
	assert.Contains(t, out, "capacity: 3600")
}

func TestConfigCommand_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zek.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
refresh:
  interval_ms: 500
web:
  bind: 0.0.0.0:8080
`), 0o600))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 500ms")
	assert.Contains(t, out, "0.0.0.0:8080")
}

func TestRoot_InvalidIntervalRejected(t *testing.T) {
	_, err := execute(t, "config", "--interval", "0s")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestStreamCommand_UnknownFormat(t *testing.T) {
	_, err := execute(t, "stream", "--format", "xml")
	assert.ErrorIs(t, err, export.ErrUnknownFormat)
}

func TestRoot_ListsSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"agent", "tui", "snapshot", "stream", "config"} {
		assert.Contains(t, out, name)
	}
}

func TestConfigCommand_IntervalFlagBeatsLegacyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zek.toml")
	require.NoError(t, os.WriteFile(path, []byte("interval_ms = 500\n"), 0o600))

	out, err := execute(t, "--config", path, "--interval", "2s", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 2s")

	t.Setenv("ZEK_INTERVAL_MS", "250")
	out, err = execute(t, "--interval", "3s", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 3s")

	out, err = execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 250ms")
}

package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.Port)
	assert.Equal(t, "custom", cfg.Server.Encoding)

	// The default file was written and parses back to the same values
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
host = "127.0.0.1"
port = 6001
encoding = "json"

[limits]
max_message_length = 512
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 6001, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Server.Encoding)
	assert.Equal(t, 512, cfg.Limits.MaxMessageLength)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.toml")
	t.Setenv("TWINWIRE_SERVER_PORT", "7777")
	t.Setenv("TWINWIRE_SERVER_ENCODING", "json")
	t.Setenv("TWINWIRE_LIMITS_DEFAULT_FETCH_LIMIT", "50")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Server.Encoding)
	assert.Equal(t, 50, cfg.Limits.DefaultFetchLimit)
}

func TestToConfigAppliesDefaults(t *testing.T) {
	var fileCfg TOMLConfig // empty file layer
	cfg := fileCfg.ToConfig()
	assert.Equal(t, DefaultConfig().Port, cfg.Port)
	assert.Equal(t, DefaultConfig().MaxMessageLength, cfg.MaxMessageLength)
	// An explicit zero HTTP port disables the HTTP server
	assert.Equal(t, 0, cfg.HTTPPort)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/lorebase/internal/config"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("LOREBASE_HOST")
	_ = os.Unsetenv("LOREBASE_CONFIG")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
	assert.Equal(t, 7600, cfg.Server.StreamPort)
	assert.Equal(t, 7601, cfg.Server.RESTPort())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LOREBASE_HOST", "0.0.0.0")
	t.Setenv("LOREBASE_STREAM_PORT", "9000")
	t.Setenv("LOREBASE_TOKEN_BUDGET", "500")
	t.Setenv("LOREBASE_KEEP_ALIVE_INTERVAL", "3s")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.StreamPort)
	assert.Equal(t, 9001, cfg.Server.RESTPort())
	assert.Equal(t, 500, cfg.Budget.TokenBudget)
	assert.Equal(t, 3*time.Second, cfg.Session.KeepAliveInterval)
}

func TestLoadConfig_YAMLFileThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lorebase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  stream_port: 8100
budget:
  token_budget: 1200
storage:
  engine: sqlite
  sqlite_path: /tmp/testing.db
`), 0o600))

	t.Setenv("LOREBASE_CONFIG", path)
	t.Setenv("LOREBASE_TOKEN_BUDGET", "900")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.StreamPort, "file value applies")
	assert.Equal(t, 900, cfg.Budget.TokenBudget, "env overrides file")
	assert.Equal(t, "/tmp/testing.db", cfg.Storage.SQLitePath)
}

func TestLoadConfig_RejectsUnknownEngine(t *testing.T) {
	t.Setenv("LOREBASE_STORAGE_ENGINE", "mongodb")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("LOREBASE_STORAGE_ENGINE", "postgres")
	_ = os.Unsetenv("LOREBASE_POSTGRES_DSN")
	_, err := config.LoadConfig()
	assert.Error(t, err)

	t.Setenv("LOREBASE_POSTGRES_DSN", "postgres://localhost/lorebase?sslmode=disable")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
}

func TestLoadConfig_BadIntFallsBackToDefault(t *testing.T) {
	t.Setenv("LOREBASE_GATEWAY_SLOTS", "not-a-number")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Gateway.Slots)
}

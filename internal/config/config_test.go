package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://automation@localhost/automation")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "http://browser-service:3000", cfg.BrowserServiceURL)
	assert.Equal(t, "@every 1m", cfg.SweepReconcile)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, config.BackendPostgres, cfg.Store)
	assert.Equal(t, config.BackendRedis, cfg.DispatchIndex)
	assert.Empty(t, cfg.NSQDAddr)

	ec := cfg.Engine()
	assert.Equal(t, "@every 30s", ec.TimeoutSchedule)
	assert.Equal(t, time.Hour, ec.DefaultTimeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "postgres")
	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrMissingRequired)

	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("REDIS_URL", "")
	_, err = config.Load()
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestLoad_MemoryBackendsNeedNoURLs(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("DISPATCH_INDEX", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LIVE_API_KEYS", "k1:ops,k2:dashboard")
	t.Setenv("CREATE_RATE", "2.5")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "ops", "k2": "dashboard"}, cfg.LiveAPIKeys)
	assert.InDelta(t, 2.5, cfg.CreateRate, 1e-9)
}

func TestLoad_PostgresIndex(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DISPATCH_INDEX", "postgres")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("REDIS_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.BackendPostgres, cfg.DispatchIndex)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("DISPATCH_INDEX", "memory")

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("STORE", "sqlite")
		_, err := config.Load()
		assert.Error(t, err)
	})
	t.Run("postgres index without postgres store", func(t *testing.T) {
		t.Setenv("DISPATCH_INDEX", "postgres")
		_, err := config.Load()
		assert.Error(t, err)
	})
	t.Run("idle below heartbeat", func(t *testing.T) {
		t.Setenv("HEARTBEAT_INTERVAL", "30s")
		t.Setenv("IDLE_TIMEOUT", "10s")
		_, err := config.Load()
		assert.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("WRITE_TIMEOUT", "soon")
		_, err := config.Load()
		assert.Error(t, err)
	})
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("STORE=memory\nDISPATCH_INDEX=memory\nHTTP_ADDR=:9100\n"), 0o600))
	t.Chdir(dir)
	// godotenv never overrides variables already set, and what it sets
	// outlives the test.
	for _, k := range []string{"STORE", "DISPATCH_INDEX", "HTTP_ADDR"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddr)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 4, cfg.Engine.WorkerThreads)
	assert.Equal(t, "order_input_queue", cfg.Queues.OrderInput)
	assert.Equal(t, "db_write_queue", cfg.Queues.DBWrite)
	assert.Equal(t, 60, cfg.Engine.SnapshotIntervalSeconds)
	assert.True(t, cfg.Engine.EnableSnapshot)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"redis": {"host": "redis.internal", "port": 6380},
		"engine": {"worker_threads": 8, "enable_snapshot": false, "snapshot_interval_seconds": 60},
		"channels": {"market_data": "md", "order_update": "ou", "trade": "tr", "error": "er"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 8, cfg.Engine.WorkerThreads)
	assert.False(t, cfg.Engine.EnableSnapshot)
	assert.Equal(t, "md", cfg.Channels.MarketData)
	// untouched sections keep their defaults
	assert.Equal(t, "order_input_queue", cfg.Queues.OrderInput)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("REDIS_HOST", "env-redis")
	t.Setenv("REDIS_PORT", "7000")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("GATEWAY_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-redis:7000", cfg.Redis.Addr())
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, ":9999", cfg.Gateway.Addr)
}

func TestValidation(t *testing.T) {
	write := func(t *testing.T, body string) string {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}
	_, err := Load(write(t, `{"engine": {"worker_threads": 0, "enable_snapshot": true, "snapshot_interval_seconds": 60}}`))
	assert.Error(t, err)

	_, err = Load(write(t, `{"engine": {"worker_threads": 4, "enable_snapshot": true, "snapshot_interval_seconds": 0}}`))
	assert.Error(t, err)

	_, err = Load(write(t, `{"queues": {"order_input": "", "db_write": "db_write_queue"}}`))
	assert.Error(t, err)

	_, err = Load(write(t, `not json`))
	assert.Error(t, err)
}

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

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "doc:", cfg.Cache.KeyPrefix)
	assert.Equal(t, 5, cfg.Dispatcher.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.BaseDelay)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Worker.RetryDelay)
	assert.Equal(t, 30*time.Minute, cfg.Worker.TaskTimeLimit)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := `
database:
  driver: sqlite
  path: ":memory:"
cache:
  backend: badger
  ttl: 1h
worker:
  maxAttempts: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.DSN())
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Worker.MaxAttempts)
	// untouched sections keep their defaults
	assert.Equal(t, 5, cfg.Dispatcher.MaxAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DP_DATABASE_HOST", "db.internal")
	t.Setenv("DP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DP_CACHE_TTL", "30m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Backend = "memcached"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.TTL = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

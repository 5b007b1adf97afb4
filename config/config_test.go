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
	assert.Equal(t, 19527, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "eastmoney", cfg.Data.Source)
	assert.Equal(t, 7*24*time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
  workers: 2
data:
  source: csv
  dir: /tmp/bars
  encoding: gbk
storage:
  driver: redis
  sqlite_path: results.db
redis:
  ttl: 1h
kafka:
  brokers: [k1:9092]
`), 0o644))

	t.Setenv("QUANT_SERVER_PORT", "9090")
	t.Setenv("QUANT_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, "gbk", cfg.Data.Encoding)
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: mongo\nserver:\n  workers: 0\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "server.workers")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

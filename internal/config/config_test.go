package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  in_memory: true
  data_dir: ""
stream:
  chunk_size: 25
repair:
  store: redis
  timeout: 45s
redis:
  host: cache.internal
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 25, cfg.Stream.ChunkSize)
	assert.Equal(t, RepairStoreRedis, cfg.Repair.Store)
	assert.Equal(t, 45*time.Second, cfg.Repair.Timeout)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Address())

	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Repair.Interval)
	assert.Equal(t, 5, cfg.Repair.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Repair.MaxRetryDelay)
}

func TestLoad_EnvironmentTakesPrecedence(t *testing.T) {
	path := writeConfig(t, `
repair:
  timeout: 45s
logging:
  level: debug
`)
	t.Setenv("ENTITYSTORE_REPAIR_TIMEOUT", "2m")
	t.Setenv("ENTITYSTORE_STREAM_CHUNK_SIZE", "7")
	t.Setenv("ENTITYSTORE_STORAGE_IN_MEMORY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Repair.Timeout)
	assert.Equal(t, 7, cfg.Stream.ChunkSize)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "repair: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero chunk size", mutate: func(c *Config) { c.Stream.ChunkSize = 0 }, wantErr: "stream.chunk_size"},
		{name: "zero repair timeout", mutate: func(c *Config) { c.Repair.Timeout = 0 }, wantErr: "repair.timeout"},
		{name: "unknown store", mutate: func(c *Config) { c.Repair.Store = "kafka" }, wantErr: "repair.store"},
		{name: "redis without host", mutate: func(c *Config) {
			c.Repair.Store = RepairStoreRedis
			c.Redis.Host = ""
		}, wantErr: "redis.host"},
		{name: "postgres without database", mutate: func(c *Config) {
			c.Repair.Store = RepairStorePostgres
			c.Database.Database = ""
		}, wantErr: "database.database"},
		{name: "no data dir", mutate: func(c *Config) { c.Storage.DataDir = "" }, wantErr: "storage.data_dir"},
		{name: "in memory without data dir", mutate: func(c *Config) {
			c.Storage.DataDir = ""
			c.Storage.InMemory = true
		}},
		{name: "negative retention", mutate: func(c *Config) { c.Versions.Retain = -1 }, wantErr: "versions.retain"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestYAML_LoadsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Repair.Store = RepairStorePostgres
	cfg.Repair.Timeout = 90 * time.Second
	cfg.Versions.Retain = 3

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 1m30s")

	loaded, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, Database: "es", User: "u", Password: "p", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/es?sslmode=require", db.DSN())
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "console"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = LoggingConfig{Level: "loud", Format: "json"}.NewLogger()
	assert.Error(t, err)
}

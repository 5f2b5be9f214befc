package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ENTITYSTORE_REPAIR_TIMEOUT
const EnvPrefix = "ENTITYSTORE"

// Load loads configuration from file and environment variables. A missing file
// leaves the defaults in place; environment variables take precedence over both.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKeys lists the settings that can be overridden from the environment
var envKeys = []string{
	"server.host",
	"server.port",
	"storage.data_dir",
	"storage.in_memory",
	"storage.sync_writes",
	"stream.chunk_size",
	"versions.retain",
	"repair.store",
	"repair.timeout",
	"repair.interval",
	"repair.max_attempts",
	"repair.workers",
	"repair.redeliveries_per_second",
	"repair.max_retry_delay",
	"redis.host",
	"redis.port",
	"redis.password",
	"redis.db",
	"database.host",
	"database.port",
	"database.database",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"index.enabled",
	"cache.entity_cache_size",
	"workers.io_workers",
	"metrics.enabled",
	"logging.level",
	"logging.format",
}

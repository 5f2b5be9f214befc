package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Repair message store backends
const (
	RepairStoreMemory   = "memory"
	RepairStoreRedis    = "redis"
	RepairStorePostgres = "postgres"
)

// Config represents the entity store service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Versions VersionsConfig `mapstructure:"versions" yaml:"versions"`
	Repair   RepairConfig   `mapstructure:"repair" yaml:"repair"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Index    IndexConfig    `mapstructure:"index" yaml:"index"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Workers  WorkersConfig  `mapstructure:"workers" yaml:"workers"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig represents the admin HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig represents pebble engine configuration
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	InMemory    bool   `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites  bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
	CacheSizeMB int64  `mapstructure:"cache_size_mb" yaml:"cache_size_mb"`
}

// StreamConfig represents field stream configuration
type StreamConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// VersionsConfig represents version retention
type VersionsConfig struct {
	Retain int `mapstructure:"retain" yaml:"retain"` // 0 keeps every version
}

// RepairConfig represents repair processor configuration
type RepairConfig struct {
	Store                 string        `mapstructure:"store" yaml:"store"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval              time.Duration `mapstructure:"interval" yaml:"interval"`
	BatchSize             int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts           int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Workers               int           `mapstructure:"workers" yaml:"workers"`
	QueueSize             int           `mapstructure:"queue_size" yaml:"queue_size"`
	Concurrency           int           `mapstructure:"concurrency" yaml:"concurrency"`
	RedeliveriesPerSecond float64       `mapstructure:"redeliveries_per_second" yaml:"redeliveries_per_second"`
	HandlerTimeout        time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout"`
	MaxRetryDelay         time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
}

// RedisConfig represents the redis repair store configuration
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// Address returns host:port
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig represents the PostgreSQL repair store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	SSLMode        string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections" yaml:"max_connections"`
}

// DSN returns the connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// IndexConfig represents search index settlement configuration
type IndexConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	RefreshWait         time.Duration `mapstructure:"refresh_wait" yaml:"refresh_wait"`
	MaxRefreshSearches  int           `mapstructure:"max_refresh_searches" yaml:"max_refresh_searches"`
	RefreshPollInterval time.Duration `mapstructure:"refresh_poll_interval" yaml:"refresh_poll_interval"`
}

// CacheConfig represents entity cache configuration
type CacheConfig struct {
	EntityCacheSize int `mapstructure:"entity_cache_size" yaml:"entity_cache_size"`
}

// WorkersConfig represents the io worker pool configuration
type WorkersConfig struct {
	IOWorkers   int `mapstructure:"io_workers" yaml:"io_workers"`
	IOQueueSize int `mapstructure:"io_queue_size" yaml:"io_queue_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required unless storage.in_memory is set")
	}
	if c.Stream.ChunkSize <= 0 {
		return errors.New("stream.chunk_size must be positive")
	}
	if c.Versions.Retain < 0 {
		return errors.New("versions.retain must not be negative")
	}
	if c.Repair.Timeout <= 0 {
		return errors.New("repair.timeout must be positive")
	}
	if c.Repair.Interval <= 0 {
		return errors.New("repair.interval must be positive")
	}
	if c.Repair.Workers <= 0 {
		return errors.New("repair.workers must be positive")
	}
	if c.Repair.RedeliveriesPerSecond <= 0 {
		return errors.New("repair.redeliveries_per_second must be positive")
	}

	switch c.Repair.Store {
	case RepairStoreMemory:
	case RepairStoreRedis:
		if c.Redis.Host == "" {
			return errors.New("redis.host is required for the redis repair store")
		}
	case RepairStorePostgres:
		if c.Database.Host == "" {
			return errors.New("database.host is required for the postgres repair store")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required for the postgres repair store")
		}
	default:
		return fmt.Errorf("repair.store must be one of: %s, %s, %s",
			RepairStoreMemory, RepairStoreRedis, RepairStorePostgres)
	}

	if c.Index.MaxRefreshSearches <= 0 {
		return errors.New("index.max_refresh_searches must be positive")
	}
	if c.Workers.IOWorkers <= 0 {
		return errors.New("workers.io_workers must be positive")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !isValidLogLevel(c.Logging.Level) {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return errors.New("logging.format must be json or console")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// YAML renders the configuration as a config file
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:     "/var/lib/entitystore",
			SyncWrites:  true,
			CacheSizeMB: 64,
		},
		Stream: StreamConfig{
			ChunkSize: 100,
		},
		Repair: RepairConfig{
			Store:                 RepairStoreMemory,
			Timeout:               30 * time.Second,
			Interval:              10 * time.Second,
			BatchSize:             100,
			MaxAttempts:           5,
			Workers:               4,
			QueueSize:             1000,
			Concurrency:           4,
			RedeliveriesPerSecond: 50,
			HandlerTimeout:        30 * time.Second,
			MaxRetryDelay:         5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "entitystore:repair",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "entitystore",
			User:           "entitystore",
			SSLMode:        "disable",
			MaxConnections: 10,
		},
		Index: IndexConfig{
			Enabled:             true,
			RefreshWait:         5 * time.Second,
			MaxRefreshSearches:  10,
			RefreshPollInterval: 50 * time.Millisecond,
		},
		Cache: CacheConfig{
			EntityCacheSize: 10000,
		},
		Workers: WorkersConfig{
			IOWorkers:   8,
			IOQueueSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

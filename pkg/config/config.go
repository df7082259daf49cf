// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Database, Redis, Cache, Kafka, Dispatcher, Worker, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Worker     WorkerConfig     `yaml:"worker"`
	Upload     UploadConfig     `yaml:"upload"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig holds durable store connection parameters. Driver is either
// "postgres" or "sqlite"; for sqlite, Path names the database file (or
// ":memory:").
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// CacheConfig controls the status cache. Backend is "redis", "badger", or
// "memory" (process-local, lost on restart).
type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"keyPrefix"`
	BadgerDir string        `yaml:"badgerDir"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers         []string    `yaml:"brokers"`
	ConsumerGroup   string      `yaml:"consumerGroup"`
	Topics          KafkaTopics `yaml:"topics"`
	Concurrency     int         `yaml:"concurrency"`
	MaxMessageBytes int         `yaml:"maxMessageBytes"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Extract      string `yaml:"extract"`
	ExtractRetry string `yaml:"extractRetry"`
}

// DispatcherConfig controls enqueue retries (linear backoff).
type DispatcherConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
}

// WorkerConfig controls the extraction worker's retry policy and limits.
type WorkerConfig struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	TaskTimeLimit time.Duration `yaml:"taskTimeLimit"`
	PoolSize      int           `yaml:"poolSize"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxBytes    int64 `yaml:"maxBytes"`
	ValidatePDF bool  `yaml:"validatePdf"`
	// RateLimitPerMinute caps uploads per client IP; 0 disables the limit.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "redis", "badger", "memory":
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Dispatcher.MaxAttempts < 1 {
		return fmt.Errorf("dispatcher maxAttempts must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker maxAttempts must be at least 1")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload maxBytes must be positive")
	}
	return nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  25 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "document_processor",
			User:            "user",
			Password:        "password",
			SSLMode:         "disable",
			Path:            "docpipeline.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       1,
			PoolSize: 10,
		},
		Cache: CacheConfig{
			Backend:   "redis",
			TTL:       24 * time.Hour,
			KeyPrefix: "doc:",
			BadgerDir: "data/cache",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docpipeline-workers",
			Topics: KafkaTopics{
				Extract:      "document-extract",
				ExtractRetry: "document-extract-retry",
			},
			Concurrency:     4,
			MaxMessageBytes: 16 << 20,
		},
		Dispatcher: DispatcherConfig{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
		},
		Worker: WorkerConfig{
			MaxAttempts:   3,
			RetryDelay:    60 * time.Second,
			TaskTimeLimit: 30 * time.Minute,
			PoolSize:      4,
		},
		Upload: UploadConfig{
			MaxBytes:    8 << 20,
			ValidatePDF: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// applyEnvOverrides reads DP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DP_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DP_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DP_DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DP_DATABASE_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DP_DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DP_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DP_DATABASE_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("DP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DP_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("DP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("DP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DP_WORKER_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.RetryDelay = d
		}
	}
	if v := os.Getenv("DP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

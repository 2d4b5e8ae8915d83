// Package config provides configuration management for the application.
// Values come from three layers, each overriding the last: built-in
// defaults, an optional YAML file, and GACHAVAULT_* environment variables
// (a .env file is loaded first when present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Fetch   FetchConfig   `yaml:"fetch"`

	// GameDataDirs overrides log-file discovery per facet, mapping the
	// facet name to an explicit game data directory.
	GameDataDirs map[string]string `yaml:"game_data_dirs"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	// Type is sqlite, postgresql, or mongodb.
	Type             string `yaml:"type"`
	SQLitePath       string `yaml:"sqlite_path"`
	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`
	MongoURI         string `yaml:"mongo_uri"`
	MongoDatabase    string `yaml:"mongo_database"`
}

// CacheConfig selects the url validation cache backend.
type CacheConfig struct {
	// Type is memory or redis.
	Type     string `yaml:"type"`
	RedisURL string `yaml:"redis_url"`
}

// FetchConfig tunes the remote API client and the pull pacing.
type FetchConfig struct {
	UserAgent      string   `yaml:"user_agent"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	PageDelay      Duration `yaml:"page_delay"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080"},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			Type:             "sqlite",
			SQLitePath:       "data/gachavault.db",
			PostgresMaxConns: 4,
			MongoDatabase:    "gachavault",
		},
		Cache: CacheConfig{Type: "memory"},
		Fetch: FetchConfig{
			MaxAttempts:    5,
			InitialBackoff: Duration(200 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
			PageDelay:      Duration(500 * time.Millisecond),
		},
	}
}

// Load builds the configuration. path names a YAML file and may be empty, in
// which case config.yaml is used when it exists.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("GACHAVAULT_PORT", &c.Server.Port)
	envString("GACHAVAULT_LOG_LEVEL", &c.Logging.Level)
	envString("GACHAVAULT_LOG_FORMAT", &c.Logging.Format)
	envString("GACHAVAULT_STORAGE_TYPE", &c.Storage.Type)
	envString("GACHAVAULT_SQLITE_PATH", &c.Storage.SQLitePath)
	envString("GACHAVAULT_POSTGRES_URL", &c.Storage.PostgresURL)
	envInt("GACHAVAULT_POSTGRES_MAX_CONNS", &c.Storage.PostgresMaxConns)
	envString("GACHAVAULT_MONGO_URI", &c.Storage.MongoURI)
	envString("GACHAVAULT_MONGO_DATABASE", &c.Storage.MongoDatabase)
	envString("GACHAVAULT_CACHE_TYPE", &c.Cache.Type)
	envString("GACHAVAULT_REDIS_URL", &c.Cache.RedisURL)
	envString("GACHAVAULT_USER_AGENT", &c.Fetch.UserAgent)
	envDuration("GACHAVAULT_PAGE_DELAY", &c.Fetch.PageDelay)
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("unknown storage type %q (want sqlite, postgresql or mongodb)", c.Storage.Type)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q (want memory or redis)", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache type redis requires redis_url")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

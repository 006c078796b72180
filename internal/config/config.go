package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Timezone  string          `yaml:"timezone"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	Driver     string `yaml:"driver"` // "memory", "sqlite", "postgres" or "redis"
	KeyPrefix  string `yaml:"key_prefix"`
	Partition  string `yaml:"partition"` // "day" or "boss"
	MaxPerBoss int    `yaml:"max_per_boss"`
	LegacyKey  string `yaml:"legacy_key"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// SQLiteConfig holds the SQLite database file settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Table    string `yaml:"table"`
}

// DSN returns the Postgres connection string.
func (d PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// CatalogConfig points at the boss catalog document.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig holds the respawn watcher schedule.
type WatchConfig struct {
	Schedule string `yaml:"schedule"`
	// HealthAddr, when set, serves /healthz and /readyz while watching.
	HealthAddr string `yaml:"health_addr"`
}

// TelemetryConfig holds OpenTelemetry settings. Export is disabled when
// OTLPEndpoint is empty.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:     "sqlite",
			KeyPrefix:  "abt",
			Partition:  "day",
			MaxPerBoss: 3000,
			LegacyKey:  "abt_records_v1",
			SQLite: SQLiteConfig{
				Path: "bosstimer.db",
			},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
				Table:   "kv_entries",
			},
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				DialTimeout: 5 * time.Second,
			},
		},
		Catalog: CatalogConfig{
			Path: "bosses.json",
		},
		Timezone: "Local",
		Watch: WatchConfig{
			Schedule: "@every 1m",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "bosstimer",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Location resolves Timezone. "Local" and "" map to time.Local.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres", "redis":
		// valid
	default:
		return fmt.Errorf("unsupported storage driver %q: must be one of memory, sqlite, postgres, redis", c.Storage.Driver)
	}
	switch c.Storage.Partition {
	case "day", "boss":
	default:
		return fmt.Errorf("unsupported partition mode %q: must be \"day\" or \"boss\"", c.Storage.Partition)
	}
	if c.Storage.MaxPerBoss < 1 {
		return fmt.Errorf("max_per_boss must be positive, got %d", c.Storage.MaxPerBoss)
	}
	if c.Storage.KeyPrefix == "" {
		return fmt.Errorf("key_prefix must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", c.Watch.Schedule, err)
	}
	return nil
}

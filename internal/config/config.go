// Package config loads the auction server configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"realtime-auction/internal/repository"
	"realtime-auction/internal/sweeper"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Bidding   BiddingConfig   `yaml:"bidding"`
	Sweeper   sweeper.Config  `yaml:"sweeper"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 keeps websocket writes unbounded by the server
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the auction store
type StoreConfig struct {
	Driver   string                    `yaml:"driver"`
	Postgres repository.PostgresConfig `yaml:"postgres"`
}

// BiddingConfig is the storage retry policy for bid processing
type BiddingConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// BroadcastConfig tunes per-connection delivery
type BroadcastConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// LogConfig sets the log level
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4000,
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Postgres: repository.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "auction",
				Database: "auction",
				SSLMode:  "disable",
			},
		},
		Bidding: BiddingConfig{
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			AttemptTimeout: 2 * time.Second,
		},
		Sweeper: sweeper.DefaultConfig(),
		Broadcast: BroadcastConfig{
			SubscriberBuffer: 64,
			PingInterval:     30 * time.Second,
			WriteTimeout:     10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it
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

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Store.Driver = getEnvOrDefault("AUCTION_STORE", c.Store.Driver)
	c.Store.Postgres.Host = getEnvOrDefault("DATABASE_HOST", c.Store.Postgres.Host)
	c.Store.Postgres.User = getEnvOrDefault("DATABASE_USER", c.Store.Postgres.User)
	c.Store.Postgres.Password = getEnvOrDefault("DATABASE_PASSWORD", c.Store.Postgres.Password)
	c.Store.Postgres.Database = getEnvOrDefault("DATABASE_NAME", c.Store.Postgres.Database)
	c.Store.Postgres.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", c.Store.Postgres.SSLMode)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	var err error
	if c.Server.Port, err = getEnvAsIntOrDefault("PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Store.Postgres.Port, err = getEnvAsIntOrDefault("DATABASE_PORT", c.Store.Postgres.Port); err != nil {
		return err
	}
	if c.Sweeper.Interval, err = getEnvAsDurationOrDefault("SWEEP_INTERVAL", c.Sweeper.Interval); err != nil {
		return err
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			errs = append(errs, errors.New("postgres store requires host and database"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Bidding.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("bidding.max_attempts must be at least 1, got %d", c.Bidding.MaxAttempts))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval))
	}
	if c.Sweeper.WatchdogMultiple < 1 {
		errs = append(errs, fmt.Errorf("sweeper.watchdog_multiple must be at least 1, got %d", c.Sweeper.WatchdogMultiple))
	}
	if c.Broadcast.SubscriberBuffer < 1 {
		errs = append(errs, fmt.Errorf("broadcast.subscriber_buffer must be at least 1, got %d", c.Broadcast.SubscriberBuffer))
	}

	return errors.Join(errs...)
}

// ServerAddress returns the listen address
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s: %w", key, err)
	}
	return d, nil
}

// Package config loads service configuration from an optional YAML file and
// CAPSYNC_* environment variables, the latter taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string         `yaml:"httpAddr"`
	LogLevel string         `yaml:"logLevel"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Commerce CommerceConfig `yaml:"commerce"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	History  HistoryConfig  `yaml:"history"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CommerceConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

type DispatchConfig struct {
	Interval   time.Duration `yaml:"interval"`
	PageSize   int           `yaml:"pageSize"`
	Workers    int           `yaml:"workers"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	MaxAge     time.Duration `yaml:"maxAge"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	Timeout             time.Duration `yaml:"timeout"`
}

// HistoryConfig bounds the task history table. A zero Retention keeps
// reports forever.
type HistoryConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"pruneInterval"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Database: DatabaseConfig{
			DSN: "host=localhost port=5432 user=capsync dbname=capsync password=capsync sslmode=disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Commerce: CommerceConfig{
			BaseURL: "http://localhost:8081",
			Timeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			Interval:   10 * time.Second,
			PageSize:   100,
			Workers:    5,
			RetryDelay: 5 * time.Minute,
			MaxAge:     24 * time.Hour,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			Timeout:             30 * time.Second,
		},
		History: HistoryConfig{
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envString("CAPSYNC_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envString("CAPSYNC_LOG_LEVEL", c.LogLevel)
	c.Database.DSN = envString("CAPSYNC_DATABASE_DSN", c.Database.DSN)
	c.Redis.Addr = envString("CAPSYNC_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envString("CAPSYNC_REDIS_PASSWORD", c.Redis.Password)
	c.Commerce.BaseURL = envString("CAPSYNC_COMMERCE_URL", c.Commerce.BaseURL)

	var err error
	if c.Redis.DB, err = envInt("CAPSYNC_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Commerce.Timeout, err = envDuration("CAPSYNC_COMMERCE_TIMEOUT", c.Commerce.Timeout); err != nil {
		return err
	}
	if c.Dispatch.Interval, err = envDuration("CAPSYNC_DISPATCH_INTERVAL", c.Dispatch.Interval); err != nil {
		return err
	}
	if c.Dispatch.PageSize, err = envInt("CAPSYNC_DISPATCH_PAGE_SIZE", c.Dispatch.PageSize); err != nil {
		return err
	}
	if c.Dispatch.Workers, err = envInt("CAPSYNC_DISPATCH_WORKERS", c.Dispatch.Workers); err != nil {
		return err
	}
	if c.Dispatch.RetryDelay, err = envDuration("CAPSYNC_RETRY_DELAY", c.Dispatch.RetryDelay); err != nil {
		return err
	}
	if c.Dispatch.MaxAge, err = envDuration("CAPSYNC_MAX_AGE", c.Dispatch.MaxAge); err != nil {
		return err
	}
	if c.History.Retention, err = envDuration("CAPSYNC_HISTORY_RETENTION", c.History.Retention); err != nil {
		return err
	}
	if c.History.PruneInterval, err = envDuration("CAPSYNC_HISTORY_PRUNE_INTERVAL", c.History.PruneInterval); err != nil {
		return err
	}
	if c.Breaker.ConsecutiveFailures, err = envUint32("CAPSYNC_BREAKER_FAILURES", c.Breaker.ConsecutiveFailures); err != nil {
		return err
	}
	if c.Breaker.Timeout, err = envDuration("CAPSYNC_BREAKER_TIMEOUT", c.Breaker.Timeout); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("CAPSYNC_HTTP_ADDR is required")
	}
	if c.Database.DSN == "" {
		return errors.New("CAPSYNC_DATABASE_DSN is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("CAPSYNC_REDIS_ADDR is required")
	}
	if c.Commerce.BaseURL == "" {
		return errors.New("CAPSYNC_COMMERCE_URL is required")
	}
	if c.Dispatch.Interval <= 0 {
		return errors.New("CAPSYNC_DISPATCH_INTERVAL must be positive")
	}
	if c.Dispatch.PageSize < 1 {
		return errors.New("CAPSYNC_DISPATCH_PAGE_SIZE must be >= 1")
	}
	if c.Dispatch.Workers < 1 {
		return errors.New("CAPSYNC_DISPATCH_WORKERS must be >= 1")
	}
	if c.Dispatch.RetryDelay <= 0 {
		return errors.New("CAPSYNC_RETRY_DELAY must be positive")
	}
	if c.Dispatch.MaxAge < c.Dispatch.RetryDelay {
		return errors.New("CAPSYNC_MAX_AGE must be >= CAPSYNC_RETRY_DELAY")
	}
	if c.History.Retention < 0 {
		return errors.New("CAPSYNC_HISTORY_RETENTION must not be negative")
	}
	if c.History.Retention > 0 && c.History.PruneInterval <= 0 {
		return errors.New("CAPSYNC_HISTORY_PRUNE_INTERVAL must be positive")
	}
	if c.Breaker.ConsecutiveFailures < 1 {
		return errors.New("CAPSYNC_BREAKER_FAILURES must be >= 1")
	}
	if c.Breaker.Timeout <= 0 {
		return errors.New("CAPSYNC_BREAKER_TIMEOUT must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func envUint32(key string, def uint32) (uint32, error) {
	if v, ok := os.LookupEnv(key); ok {
		u, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return uint32(u), nil
	}
	return def, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

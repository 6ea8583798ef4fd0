// Package config loads service settings from SANTA_* environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "santa"

// Backends accepted by Store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Store       string        `envconfig:"STORE" default:"memory"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	TxTimeout   time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"santa.notifications"`
	NotifyBuffer int      `envconfig:"NOTIFY_BUFFER" default:"256"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`

	DrawMaxAttempts  int           `envconfig:"DRAW_MAX_ATTEMPTS" default:"5"`
	DrawRetryBackoff time.Duration `envconfig:"DRAW_RETRY_BACKOFF" default:"20ms"`
}

// Load reads an optional .env file (missing files are ignored) and then the
// environment. Real environment variables win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("SANTA_DATABASE_URL is required for the postgres store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("SANTA_REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SANTA_STORE %q (want memory, postgres or redis)", c.Store))
	}
	if c.DrawMaxAttempts < 1 {
		errs = append(errs, errors.New("SANTA_DRAW_MAX_ATTEMPTS must be at least 1"))
	}
	if c.DrawRetryBackoff < 0 {
		errs = append(errs, errors.New("SANTA_DRAW_RETRY_BACKOFF must not be negative"))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("SANTA_TX_TIMEOUT must be positive"))
	}
	if c.NotifyBuffer < 0 {
		errs = append(errs, errors.New("SANTA_NOTIFY_BUFFER must not be negative"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("SANTA_KAFKA_TOPIC is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// AdminEnabled reports whether admin routes should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminToken != ""
}

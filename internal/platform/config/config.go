package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon's environment-driven configuration. Pipeline tuning
// (TTL buckets, retry delays, batch sizing) lives with the services that own
// it; this covers wiring-level choices only.
type Config struct {
	// Port is the control API listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// SiteBaseURL is the card-trading site scraped for counts.
	SiteBaseURL string `env:"SITE_BASE_URL" envDefault:"https://mangabuff.ru"`

	// StorageBackend selects the snapshot store: memory, postgres or redis.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	// DatabaseURL is required when StorageBackend is postgres.
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis connection settings, used when StorageBackend is redis.
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// KeyPrefix namespaces every snapshot key in the store.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"cardstats"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	switch cfg.StorageBackend {
	case "memory", "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required with STORAGE_BACKEND=postgres")
	}
	return cfg, nil
}

package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env       string `env:"ENV"        envDefault:"dev"`  // Environment (dev, staging, prod)
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"` // Log level (debug, info, warn, error)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // Log format (json, text)

	DatabaseDriver    string `env:"DATABASE_DRIVER"     envDefault:"sqlite"`     // sqlite or postgres
	DatabaseURL       string `env:"DATABASE_URL"        envDefault:"seatpool.db"` // sqlite path or postgres DSN
	LedgerDatabaseURL string `env:"LEDGER_DATABASE_URL"`                          // Optional: separate database for invite requests
	ForceCAS          bool   `env:"FORCE_CAS"`                                    // Optional: use compare-and-set even where SKIP LOCKED works
	MasterKeyPath     string `env:"MASTER_KEY_PATH"`                              // Optional: seals account tokens at rest

	ProviderBaseURL       string        `env:"PROVIDER_BASE_URL"`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT"         envDefault:"15s"`
	ProviderRatePerSecond float64       `env:"PROVIDER_RATE_PER_SECOND" envDefault:"5"`
	ProviderBurst         int           `env:"PROVIDER_BURST"           envDefault:"5"`

	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY"    envDefault:"2"`
	WorkerPollInterval  time.Duration `env:"WORKER_POLL_INTERVAL"  envDefault:"1s"`
	HealthPort          int           `env:"HEALTH_PORT"           envDefault:"8080"` // 0 disables the health server
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	Settings settings.Settings
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Settings = cfg.Settings.Normalize()
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

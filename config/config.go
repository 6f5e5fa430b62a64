// Package config loads runtime configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration. Credentials are treated as an
// opaque record by everything past the auth and contact layers.
type Config struct {
	Email    string `env:"WG_EMAIL,required"`
	Password string `env:"WG_PASSWORD,required"`
	Phone    string `env:"WG_PHONE"`

	// TemplateName selects a saved message template by name; empty picks
	// the first one found in the account.
	TemplateName string `env:"WG_TEMPLATE"`

	// FilterNames restricts the run to a subset of saved filters; empty
	// uses all of them.
	FilterNames []string `env:"WG_FILTERS" envSeparator:","`

	// DataDir holds the contact ledger and the offline ad snapshots.
	DataDir string `env:"WG_DATA_DIR"`

	// StorageBucket switches snapshot storage to a GCS bucket.
	StorageBucket   string `env:"STORAGE_BUCKET"`
	CredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`

	BaseURL string `env:"WG_BASE_URL" envDefault:"https://www.wg-gesucht.de"`

	// DryRun logs would-be submissions instead of sending them.
	DryRun bool `env:"DRY_RUN"`

	// Request pacing window. The delay between any two site requests is
	// randomized inside [MinRequestDelay, MaxRequestDelay] and must never
	// be zero: the cadence is site policy, not an optimization target.
	MinRequestDelay time.Duration `env:"MIN_REQUEST_DELAY" envDefault:"5s"`
	MaxRequestDelay time.Duration `env:"MAX_REQUEST_DELAY" envDefault:"8s"`

	// Pause between full cycles, randomized inside the window.
	MinCyclePause time.Duration `env:"MIN_CYCLE_PAUSE" envDefault:"4m"`
	MaxCyclePause time.Duration `env:"MAX_CYCLE_PAUSE" envDefault:"5m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	// A missing .env is not an error; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, "WG Finder")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MinRequestDelay <= 0 {
		return fmt.Errorf("MIN_REQUEST_DELAY must be positive, got %s", c.MinRequestDelay)
	}
	if c.MaxRequestDelay < c.MinRequestDelay {
		return fmt.Errorf("MAX_REQUEST_DELAY (%s) must be >= MIN_REQUEST_DELAY (%s)",
			c.MaxRequestDelay, c.MinRequestDelay)
	}
	if c.MinCyclePause <= 0 {
		return fmt.Errorf("MIN_CYCLE_PAUSE must be positive, got %s", c.MinCyclePause)
	}
	if c.MaxCyclePause < c.MinCyclePause {
		return fmt.Errorf("MAX_CYCLE_PAUSE (%s) must be >= MIN_CYCLE_PAUSE (%s)",
			c.MaxCyclePause, c.MinCyclePause)
	}
	return nil
}

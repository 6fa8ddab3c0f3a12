package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration. Values come from an optional
// TOML file, overridden by KABU_* environment variables.
type Config struct {
	ListenAddress  string        `toml:"ListenAddress"`
	MetricsAddress string        `toml:"MetricsAddress"`
	PostgresDSN    string        `toml:"PostgresDSN"`
	NATSURL        string        `toml:"NATSURL"` // empty disables rot notifications
	APIToken       string        `toml:"APIToken"`
	MigrationsDir  string        `toml:"MigrationsDir"`
	LogLevel       string        `toml:"LogLevel"`
	ReaperInterval time.Duration `toml:"-"`

	// ReaperIntervalRaw is the TOML/env form of ReaperInterval ("1m", "30s")
	ReaperIntervalRaw string `toml:"ReaperInterval"`

	Market MarketConfig `toml:"Market"`
}

// MarketConfig holds the market rules.
type MarketConfig struct {
	ExpireDays   int     `toml:"ExpireDays"`
	ServiceFee   float64 `toml:"ServiceFee"`
	MaxBuyPerDay int64   `toml:"MaxBuyPerDay"` // 0 disables the daily cap
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddress:     ":8080",
		MetricsAddress:    ":9091",
		PostgresDSN:       "host=localhost port=5432 user=postgres password=postgres dbname=kabu sslmode=disable",
		NATSURL:           "",
		APIToken:          "dev-token",
		MigrationsDir:     "migrations",
		LogLevel:          "info",
		ReaperIntervalRaw: "1m",
		Market: MarketConfig{
			ExpireDays:   7,
			ServiceFee:   0.03,
			MaxBuyPerDay: 10,
		},
	}
}

// Load reads the config file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	interval, err := time.ParseDuration(cfg.ReaperIntervalRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper interval %q: %w", cfg.ReaperIntervalRaw, err)
	}
	cfg.ReaperInterval = interval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Market.ExpireDays <= 0 {
		return fmt.Errorf("market expire days must be positive, got %d", c.Market.ExpireDays)
	}
	if c.Market.ServiceFee < 0 || c.Market.ServiceFee >= 1 {
		return fmt.Errorf("market service fee must be in [0,1), got %v", c.Market.ServiceFee)
	}
	if c.Market.MaxBuyPerDay < 0 {
		return fmt.Errorf("market max buy per day cannot be negative, got %d", c.Market.MaxBuyPerDay)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", c.ReaperInterval)
	}
	return nil
}

// ServiceFeeDecimal returns the service fee as an exact decimal.
func (c *Config) ServiceFeeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Market.ServiceFee)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KABU_LISTEN_ADDR"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("KABU_METRICS_ADDR"); v != "" {
		cfg.MetricsAddress = v
	}
	if v := os.Getenv("KABU_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("KABU_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("KABU_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("KABU_MIGRATIONS_DIR"); v != "" {
		cfg.MigrationsDir = v
	}
	if v := os.Getenv("KABU_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KABU_REAPER_INTERVAL"); v != "" {
		cfg.ReaperIntervalRaw = v
	}
	if v := os.Getenv("KABU_EXPIRE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Market.ExpireDays = n
		}
	}
	if v := os.Getenv("KABU_SERVICE_FEE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Market.ServiceFee = f
		}
	}
	if v := os.Getenv("KABU_MAX_BUY_PER_DAY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.MaxBuyPerDay = n
		}
	}
}

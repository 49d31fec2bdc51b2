package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Save slot backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port        string `env:"PORT" envDefault:"8009"`
	DatabaseURL string `env:"DATABASE_URL"` // clear archive; empty disables it
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"stagecraft.db"`
	SaveBackend string `env:"SAVE_BACKEND" envDefault:"redis"`
	StagesDir   string `env:"STAGES_DIR" envDefault:"stages"`

	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	DevAuth        bool          `env:"DEV_AUTH" envDefault:"false"`

	VerdictCacheTTL     time.Duration `env:"VERDICT_CACHE_TTL" envDefault:"5s"`
	RewardCacheTTL      time.Duration `env:"REWARD_CACHE_TTL" envDefault:"5m"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"10"`
	BatchIdle           time.Duration `env:"BATCH_IDLE" envDefault:"100ms"`
	FinishedRunTTL      time.Duration `env:"FINISHED_RUN_TTL" envDefault:"10m"`
	BossCurrencyPerKill int           `env:"BOSS_CURRENCY_PER_KILL" envDefault:"1"`
	Language            string        `env:"LANGUAGE" envDefault:"en"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
	Dev      bool   `env:"DEV" envDefault:"false"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.SaveBackend {
	case BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("SAVE_BACKEND must be %q or %q, got %q", BackendRedis, BackendSQLite, c.SaveBackend)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.VerdictCacheTTL <= 0 || c.RewardCacheTTL <= 0 || c.BatchIdle <= 0 || c.FinishedRunTTL <= 0 {
		return fmt.Errorf("cache TTLs, BATCH_IDLE and FINISHED_RUN_TTL must be positive")
	}
	if c.BossCurrencyPerKill < 0 {
		return fmt.Errorf("BOSS_CURRENCY_PER_KILL must not be negative, got %d", c.BossCurrencyPerKill)
	}
	return nil
}

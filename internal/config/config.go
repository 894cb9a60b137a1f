// Package config handles application configuration from environment variables.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one.

	"github.com/sethvargo/go-envconfig"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN, required"`
	DatabasePath     string        `env:"DATABASE_PATH, default=./data/bot.db"`
	LogLevel         string        `env:"LOG_LEVEL, default=info"`
	RawAllowedUsers  string        `env:"ALLOWED_USERS"`
	TimeZone         string        `env:"TIME_ZONE, default=Europe/Berlin"`
	RSSMinFrequency  int           `env:"RSS_MIN_FREQ, default=5"`
	RSSDefaultFreq   int           `env:"RSS_DEFAULT_FREQ, default=30"`
	RSSFetchTimeout  time.Duration `env:"RSS_FETCH_TIMEOUT, default=30s"`
	JobPollInterval  time.Duration `env:"JOB_POLL_INTERVAL, default=5s"`
	JobMisfireGrace  time.Duration `env:"JOB_MISFIRE_GRACE, default=10m"`
	SendMaxRetries   uint64        `env:"SEND_MAX_RETRIES, default=3"`

	AllowedUsers []int64

	loc *time.Location
}

// Load reads configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper and validates it.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	for _, s := range strings.Split(cfg.RawAllowedUsers, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", cfg.TimeZone, err)
	}
	cfg.loc = loc

	if cfg.RSSMinFrequency < 1 {
		return nil, fmt.Errorf("RSS_MIN_FREQ must be at least 1, got %d", cfg.RSSMinFrequency)
	}
	if cfg.RSSDefaultFreq < cfg.RSSMinFrequency {
		return nil, fmt.Errorf("RSS_DEFAULT_FREQ must be at least RSS_MIN_FREQ (%d), got %d", cfg.RSSMinFrequency, cfg.RSSDefaultFreq)
	}
	if cfg.RSSFetchTimeout <= 0 {
		return nil, fmt.Errorf("RSS_FETCH_TIMEOUT must be positive")
	}
	if cfg.JobPollInterval <= 0 {
		return nil, fmt.Errorf("JOB_POLL_INTERVAL must be positive")
	}

	return &cfg, nil
}

// Location returns the scheduler time zone. Falls back to UTC for configs
// built by hand.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SETTLER_* environment
// variables.
type Config struct {
	Database Database `toml:"database"`
	Redis    Redis    `toml:"redis"`
	Results  Results  `toml:"results"`
	Engine   Engine   `toml:"engine"`
	Markets  Markets  `toml:"markets"`
	Archive  Archive  `toml:"archive"`
	Server   Server   `toml:"server"`
	Notify   Notify   `toml:"notify"`
	Mode     string   `toml:"mode"`
	LogLevel string   `toml:"log_level"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Database holds PostgreSQL connection parameters.
type Database struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Name          string `toml:"name"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Redis holds connection parameters for the sweep-lock backend. When
// disabled, sweeps fall back to in-process overlap guards only.
type Redis struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// Results holds the results feed endpoint parameters.
type Results struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// Engine holds sweep cadence and per-item processing limits.
type Engine struct {
	CreationInterval   duration `toml:"creation_interval"`
	ClosingInterval    duration `toml:"closing_interval"`
	ResolutionInterval duration `toml:"resolution_interval"`
	LookaheadDays      int      `toml:"lookahead_days"`
	BatchSize          int      `toml:"batch_size"`
	BetPageSize        int      `toml:"bet_page_size"`
	Workers            int      `toml:"workers"`
	ItemTimeout        duration `toml:"item_timeout"`
	LockTTL            duration `toml:"lock_ttl"`
}

// Markets describes which market types exist per event category and how
// their schedules and outcomes are built.
type Markets struct {
	// Catalog maps an event category to the market types created for its
	// events, e.g. motorsport = ["winner", "podium", "fastest_lap"].
	Catalog map[string][]string `toml:"catalog"`

	// CloseBuffer is how long before event start a market stops taking
	// bets, per category. DefaultCloseBuffer applies when a category has
	// no entry.
	CloseBuffer        map[string]duration `toml:"close_buffer"`
	DefaultCloseBuffer duration            `toml:"default_close_buffer"`

	// Binary lists the fixed-outcome binary market templates instantiated
	// per event in addition to the participant-indexed types.
	Binary []BinaryTemplate `toml:"binary"`
}

// BinaryTemplate is a configured yes/no market. FactKey names the results
// fact whose boolean value resolves it.
type BinaryTemplate struct {
	Category string  `toml:"category"`
	Title    string  `toml:"title"`
	FactKey  string  `toml:"fact_key"`
	YesOdds  float64 `toml:"yes_odds"`
	NoOdds   float64 `toml:"no_odds"`
}

// Archive holds the S3 audit-export parameters.
type Archive struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
	RetentionDays  int      `toml:"retention_days"`
}

// Server holds the ops HTTP server parameters.
type Server struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit is requests per window per client IP; zero disables
	// limiting. The limiter requires Redis to be enabled.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// Notify holds notification channel credentials and the event filter.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

var validModes = map[string]bool{
	"engine": true, // sweeps only
	"ops":    true, // ops API only
	"full":   true, // sweeps + ops API
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for internal consistency. It collects
// every problem rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, ops, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "") {
		errs = append(errs, "database: either dsn or host/name/user must be set")
	}

	if c.Results.BaseURL == "" {
		errs = append(errs, "results: base_url must not be empty")
	}
	if c.Results.Timeout.Duration <= 0 {
		errs = append(errs, "results: timeout must be positive")
	}

	if c.Engine.CreationInterval.Duration <= 0 || c.Engine.ClosingInterval.Duration <= 0 || c.Engine.ResolutionInterval.Duration <= 0 {
		errs = append(errs, "engine: sweep intervals must be positive")
	}
	if c.Engine.LookaheadDays <= 0 {
		errs = append(errs, "engine: lookahead_days must be positive")
	}
	if c.Engine.BetPageSize <= 0 {
		errs = append(errs, "engine: bet_page_size must be positive")
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, "engine: workers must be positive")
	}

	if c.Markets.DefaultCloseBuffer.Duration <= 0 {
		errs = append(errs, "markets: default_close_buffer must be positive")
	}
	for category, types := range c.Markets.Catalog {
		for _, t := range types {
			if _, ok := domain.ParseMarketType(t); !ok {
				errs = append(errs, fmt.Sprintf("markets: catalog[%s] has unknown market type %q", category, t))
			}
		}
	}
	for i, b := range c.Markets.Binary {
		if b.Category == "" || b.Title == "" || b.FactKey == "" {
			errs = append(errs, fmt.Sprintf("markets: binary[%d] needs category, title and fact_key", i))
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" || c.Archive.Region == "" {
			errs = append(errs, "archive: bucket and region are required when enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CategoryTypes returns the configured market types for a category, parsed
// and deduplicated. Unknown names were already rejected by Validate.
func (m Markets) CategoryTypes(category string) []domain.MarketType {
	seen := make(map[domain.MarketType]bool)
	var out []domain.MarketType
	for _, s := range m.Catalog[category] {
		t, ok := domain.ParseMarketType(s)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// CloseBufferFor returns the closing-time buffer for a category.
func (m Markets) CloseBufferFor(category string) time.Duration {
	if d, ok := m.CloseBuffer[category]; ok && d.Duration > 0 {
		return d.Duration
	}
	return m.DefaultCloseBuffer.Duration
}

// BinaryFor returns the binary market templates configured for a category.
func (m Markets) BinaryFor(category string) []BinaryTemplate {
	var out []BinaryTemplate
	for _, b := range m.Binary {
		if b.Category == category {
			out = append(out, b)
		}
	}
	return out
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: Database{
			Host:          "localhost",
			Port:          5432,
			Name:          "settler",
			User:          "settler",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: Redis{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Results: Results{
			BaseURL: "http://localhost:8090",
			Timeout: duration{10 * time.Second},
		},
		Engine: Engine{
			CreationInterval:   duration{5 * time.Minute},
			ClosingInterval:    duration{time.Minute},
			ResolutionInterval: duration{2 * time.Minute},
			LookaheadDays:      7,
			BatchSize:          200,
			BetPageSize:        500,
			Workers:            4,
			ItemTimeout:        duration{30 * time.Second},
			LockTTL:            duration{5 * time.Minute},
		},
		Markets: Markets{
			Catalog: map[string][]string{
				"motorsport": {"winner", "podium", "fastest_lap"},
			},
			CloseBuffer:        map[string]duration{},
			DefaultCloseBuffer: duration{2 * time.Hour},
		},
		Archive: Archive{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Interval:       duration{24 * time.Hour},
			RetentionDays:  30,
		},
		Server: Server{
			Enabled:         true,
			Port:            8080,
			RateLimit:       50,
			RateLimitWindow: duration{time.Second},
		},
		Notify: Notify{
			Events: []string{"market_closed", "market_resolved"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

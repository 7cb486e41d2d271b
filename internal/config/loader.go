package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETTLER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SETTLER_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SETTLER_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SETTLER_DATABASE_PORT")
	setStr(&cfg.Database.Name, "SETTLER_DATABASE_NAME")
	setStr(&cfg.Database.User, "SETTLER_DATABASE_USER")
	setStr(&cfg.Database.Password, "SETTLER_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SETTLER_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SETTLER_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SETTLER_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SETTLER_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SETTLER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SETTLER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLER_REDIS_MAX_RETRIES")

	// ── Results feed ──
	setStr(&cfg.Results.BaseURL, "SETTLER_RESULTS_BASE_URL")
	setStr(&cfg.Results.APIKey, "SETTLER_RESULTS_API_KEY")
	setDuration(&cfg.Results.Timeout, "SETTLER_RESULTS_TIMEOUT")

	// ── Engine ──
	setDuration(&cfg.Engine.CreationInterval, "SETTLER_ENGINE_CREATION_INTERVAL")
	setDuration(&cfg.Engine.ClosingInterval, "SETTLER_ENGINE_CLOSING_INTERVAL")
	setDuration(&cfg.Engine.ResolutionInterval, "SETTLER_ENGINE_RESOLUTION_INTERVAL")
	setInt(&cfg.Engine.LookaheadDays, "SETTLER_ENGINE_LOOKAHEAD_DAYS")
	setInt(&cfg.Engine.BatchSize, "SETTLER_ENGINE_BATCH_SIZE")
	setInt(&cfg.Engine.BetPageSize, "SETTLER_ENGINE_BET_PAGE_SIZE")
	setInt(&cfg.Engine.Workers, "SETTLER_ENGINE_WORKERS")
	setDuration(&cfg.Engine.ItemTimeout, "SETTLER_ENGINE_ITEM_TIMEOUT")
	setDuration(&cfg.Engine.LockTTL, "SETTLER_ENGINE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SETTLER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "SETTLER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "SETTLER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "SETTLER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "SETTLER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "SETTLER_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "SETTLER_ARCHIVE_FORCE_PATH_STYLE")
	setDuration(&cfg.Archive.Interval, "SETTLER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SETTLER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SETTLER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SETTLER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SETTLER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SETTLER_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLER_MODE")
	setStr(&cfg.LogLevel, "SETTLER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

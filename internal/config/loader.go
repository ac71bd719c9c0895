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
// built-in defaults, applies HEDGEBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known HEDGEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "HEDGEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "HEDGEBOT_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "HEDGEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "HEDGEBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "HEDGEBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "HEDGEBOT_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.ChainID, "HEDGEBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "HEDGEBOT_POLYMARKET_SIGNATURE_TYPE")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "HEDGEBOT_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "HEDGEBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "HEDGEBOT_KALSHI_BASE_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HEDGEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGEBOT_S3_FORCE_PATH_STYLE")

	// ── Matcher ──
	setStr(&cfg.Matcher.Schedule, "HEDGEBOT_MATCHER_SCHEDULE")
	setFloat64(&cfg.Matcher.MinSpreadPercent, "HEDGEBOT_MATCHER_MIN_SPREAD_PERCENT")
	setFloat64(&cfg.Matcher.MinSimilarity, "HEDGEBOT_MATCHER_MIN_SIMILARITY")
	setInt64(&cfg.Matcher.MinLiquidity, "HEDGEBOT_MATCHER_MIN_LIQUIDITY")
	setInt(&cfg.Matcher.MaxPairsPerRun, "HEDGEBOT_MATCHER_MAX_PAIRS_PER_RUN")
	setDuration(&cfg.Matcher.JobTimeout, "HEDGEBOT_MATCHER_JOB_TIMEOUT")
	setDuration(&cfg.Matcher.SnapshotTTL, "HEDGEBOT_MATCHER_SNAPSHOT_TTL")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinSpreadPercent, "HEDGEBOT_TRADING_MIN_SPREAD_PERCENT")
	setInt64(&cfg.Trading.MaxInvestment, "HEDGEBOT_TRADING_MAX_INVESTMENT")
	setInt64(&cfg.Trading.MinInvestment, "HEDGEBOT_TRADING_MIN_INVESTMENT")
	setDuration(&cfg.Trading.VenueTimeout, "HEDGEBOT_TRADING_VENUE_TIMEOUT")

	// ── Settlement ──
	setStr(&cfg.Settlement.Schedule, "HEDGEBOT_SETTLEMENT_SCHEDULE")
	setInt(&cfg.Settlement.BatchSize, "HEDGEBOT_SETTLEMENT_BATCH_SIZE")
	setDuration(&cfg.Settlement.JobTimeout, "HEDGEBOT_SETTLEMENT_JOB_TIMEOUT")
	setDuration(&cfg.Settlement.StaleAfter, "HEDGEBOT_SETTLEMENT_STALE_AFTER")

	// ── Guard ──
	setInt(&cfg.Guard.RateLimit, "HEDGEBOT_GUARD_RATE_LIMIT")
	setDuration(&cfg.Guard.RateWindow, "HEDGEBOT_GUARD_RATE_WINDOW")
	setInt(&cfg.Guard.BreakerThreshold, "HEDGEBOT_GUARD_BREAKER_THRESHOLD")
	setDuration(&cfg.Guard.BreakerCooldown, "HEDGEBOT_GUARD_BREAKER_COOLDOWN")
	setInt(&cfg.Guard.BreakerHalfOpenMax, "HEDGEBOT_GUARD_BREAKER_HALF_OPEN_MAX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "HEDGEBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "HEDGEBOT_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.LagMonths, "HEDGEBOT_ARCHIVE_LAG_MONTHS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HEDGEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HEDGEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HEDGEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "HEDGEBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "HEDGEBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGEBOT_MODE")
	setStr(&cfg.LogLevel, "HEDGEBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

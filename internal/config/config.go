// Package config defines the top-level configuration for the arbitrage
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root of the configuration tree, decoded from a TOML file
// and then overridden by HEDGEBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Trading    TradingConfig    `toml:"trading"`
	Settlement SettlementConfig `toml:"settlement"`
	Guard      GuardConfig      `toml:"guard"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the Ethereum key used to sign Polymarket orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig selects the CLOB and Gamma endpoints plus the chain the
// exchange contract lives on.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// KalshiConfig carries the Kalshi API credentials and endpoint.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig configures the shared cache, lock, and event bus connection.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config configures the archive bucket. Any S3-compatible provider works;
// MinIO needs ForcePathStyle.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MatcherConfig holds market-matching parameters.
type MatcherConfig struct {
	// Schedule is a six-field cron expression (seconds first).
	Schedule         string   `toml:"schedule"`
	MinSpreadPercent float64  `toml:"min_spread_percent"`
	MinSimilarity    float64  `toml:"min_similarity"`
	MinLiquidity     int64    `toml:"min_liquidity"` // minor units
	MaxPairsPerRun   int      `toml:"max_pairs_per_run"`
	JobTimeout       duration `toml:"job_timeout"`
	SnapshotTTL      duration `toml:"snapshot_ttl"`
}

// TradingConfig holds execution parameters.
type TradingConfig struct {
	// MinSpreadPercent is the live-spread floor re-checked at execution time.
	MinSpreadPercent float64  `toml:"min_spread_percent"`
	MaxInvestment    int64    `toml:"max_investment"` // minor units
	MinInvestment    int64    `toml:"min_investment"` // minor units
	VenueTimeout     duration `toml:"venue_timeout"`
}

// SettlementConfig holds settlement job parameters.
type SettlementConfig struct {
	Schedule   string   `toml:"schedule"`
	BatchSize  int      `toml:"batch_size"`
	JobTimeout duration `toml:"job_timeout"`
	// StaleAfter is the grace past a pair deadline before an unresolved
	// trade is marked stale.
	StaleAfter duration `toml:"stale_after"`
}

// GuardConfig holds the protective-wrapper parameters applied to every
// venue call.
type GuardConfig struct {
	RateLimit          int      `toml:"rate_limit"` // calls per window per venue
	RateWindow         duration `toml:"rate_window"`
	BreakerThreshold   int      `toml:"breaker_threshold"` // consecutive failures to open
	BreakerCooldown    duration `toml:"breaker_cooldown"`
	BreakerHalfOpenMax int      `toml:"breaker_half_open_max"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
	// LagMonths is how many whole months back the export runs (1 = last month).
	LagMonths int `toml:"lag_months"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client per minute; 0 disables.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig selects the notification channels and which events reach
// them.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets TOML fields hold time.Duration strings such as "90s" or
// "4m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the baseline Config that Load starts from before the
// file and environment are applied.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Matcher: MatcherConfig{
			Schedule:         "0 */10 * * * *",
			MinSpreadPercent: 5.0,
			MinSimilarity:    0.80,
			MinLiquidity:     50_00, // 50.00 in minor units
			MaxPairsPerRun:   200,
			JobTimeout:       duration{4 * time.Minute},
			SnapshotTTL:      duration{15 * time.Minute},
		},
		Trading: TradingConfig{
			MinSpreadPercent: 5.0,
			MaxInvestment:    500_00,
			MinInvestment:    1_00,
			VenueTimeout:     duration{10 * time.Second},
		},
		Settlement: SettlementConfig{
			Schedule:   "0 */30 * * * *",
			BatchSize:  100,
			JobTimeout: duration{5 * time.Minute},
			StaleAfter: duration{72 * time.Hour},
		},
		Guard: GuardConfig{
			RateLimit:          30,
			RateWindow:         duration{10 * time.Second},
			BreakerThreshold:   5,
			BreakerCooldown:    duration{30 * time.Second},
			BreakerHalfOpenMax: 2,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Schedule:  "0 0 3 1 * *",
			LagMonths: 1,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_partial", "trade_failed", "trade_settled", "job_completed"},
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true, // HTTP API only
	"jobs":   true, // scheduled matcher/settlement/archive only
	"all":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, jobs, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// One key source is required whenever orders can be placed.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host is required")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host is required")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be > 0")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type %d not supported, use 1 (EOA) or 2 (Safe)", c.Polymarket.SignatureType))
	}

	// Kalshi
	if c.Kalshi.ApiKey == "" {
		errs = append(errs, "kalshi: api_key is required")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url is required")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host is required unless postgres.dsn is set")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d outside 1-65535", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database is required")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be at least 1")
	}

	// S3 settings only matter when archiving is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint is required when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archive is enabled")
		}
		if c.Archive.LagMonths < 1 {
			errs = append(errs, "archive: lag_months must be >= 1")
		}
	}

	// Matcher
	if c.Matcher.MinSpreadPercent <= 0 || c.Matcher.MinSpreadPercent >= 100 {
		errs = append(errs, fmt.Sprintf("matcher: min_spread_percent must be in (0, 100), got %v", c.Matcher.MinSpreadPercent))
	}
	if c.Matcher.MinSimilarity <= 0 || c.Matcher.MinSimilarity > 1 {
		errs = append(errs, fmt.Sprintf("matcher: min_similarity must be in (0, 1], got %v", c.Matcher.MinSimilarity))
	}
	if c.Matcher.MinLiquidity < 0 {
		errs = append(errs, "matcher: min_liquidity must be >= 0")
	}
	if c.Matcher.JobTimeout.Duration <= 0 {
		errs = append(errs, "matcher: job_timeout must be > 0")
	}

	// Trading
	if c.Trading.MinSpreadPercent <= 0 || c.Trading.MinSpreadPercent >= 100 {
		errs = append(errs, fmt.Sprintf("trading: min_spread_percent must be in (0, 100), got %v", c.Trading.MinSpreadPercent))
	}
	if c.Trading.MinInvestment <= 0 {
		errs = append(errs, "trading: min_investment must be > 0")
	}
	if c.Trading.MaxInvestment < c.Trading.MinInvestment {
		errs = append(errs, "trading: max_investment must be >= min_investment")
	}
	if c.Trading.VenueTimeout.Duration <= 0 {
		errs = append(errs, "trading: venue_timeout must be > 0")
	}

	// Settlement
	if c.Settlement.BatchSize < 1 {
		errs = append(errs, "settlement: batch_size must be >= 1")
	}
	if c.Settlement.JobTimeout.Duration <= 0 {
		errs = append(errs, "settlement: job_timeout must be > 0")
	}
	if c.Settlement.StaleAfter.Duration <= 0 {
		errs = append(errs, "settlement: stale_after must be > 0")
	}

	// Guard
	if c.Guard.RateLimit < 1 {
		errs = append(errs, "guard: rate_limit must be >= 1")
	}
	if c.Guard.RateWindow.Duration <= 0 {
		errs = append(errs, "guard: rate_window must be > 0")
	}
	if c.Guard.BreakerThreshold < 1 {
		errs = append(errs, "guard: breaker_threshold must be >= 1")
	}
	if c.Guard.BreakerCooldown.Duration <= 0 {
		errs = append(errs, "guard: breaker_cooldown must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port %d outside 1-65535", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

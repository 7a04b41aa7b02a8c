// Package config defines the top-level configuration for flowguard and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLOWGUARD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Protocol ProtocolConfig `toml:"protocol"`
	Venue    VenueConfig    `toml:"venue"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the compliance
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ProtocolConfig holds the global risk thresholds, rate limits, size caps, and
// fee parameters. It is threaded into each service as an explicit value, never
// read as ambient global state.
type ProtocolConfig struct {
	PerformanceFeeBps uint16 `toml:"performance_fee_bps"`
	ProtocolFeeBps    uint16 `toml:"protocol_fee_bps"`
	FeeRecipient      string `toml:"fee_recipient"`

	MinRebalanceIntervalSec     int64  `toml:"min_rebalance_interval_sec"`
	MaxRebalanceFrequency       int    `toml:"max_rebalance_frequency"`
	DefaultSlippageToleranceBps uint16 `toml:"default_slippage_tolerance_bps"`

	MaxPositionSize        uint64 `toml:"max_position_size"`
	MaxSingleTradeSize     uint64 `toml:"max_single_trade_size"`
	HumanApprovalThreshold uint64 `toml:"human_approval_threshold"`

	DefaultAIModelVersion string `toml:"default_ai_model_version"`

	// Access gate (pay-per-access) parameters.
	MinAccessPayment   uint64 `toml:"min_access_payment"`
	PaymentFacilitator string `toml:"payment_facilitator"`
	AccessWindowSec    int64  `toml:"access_window_sec"`
}

// MinRebalanceInterval returns the interval as a duration.
func (p ProtocolConfig) MinRebalanceInterval() time.Duration {
	return time.Duration(p.MinRebalanceIntervalSec) * time.Second
}

// AccessWindow returns the access grant window as a duration.
func (p ProtocolConfig) AccessWindow() time.Duration {
	return time.Duration(p.AccessWindowSec) * time.Second
}

// VenueConfig controls how venue-side effects are driven.
type VenueConfig struct {
	// LocalOnly opts into skipping venue mirroring entirely. When false (the
	// default) an unavailable venue is a hard error.
	LocalOnly bool `toml:"local_only"`
	// Kind selects the adapter implementation ("sim" for the in-process
	// paper venue).
	Kind string `toml:"kind"`
	// SimSlippageBps is the deterministic slippage the sim venue reports.
	SimSlippageBps uint16 `toml:"sim_slippage_bps"`
}

// ArchiveConfig controls the audit ledger export loop.
type ArchiveConfig struct {
	Enabled     bool   `toml:"enabled"`
	IntervalSec int64  `toml:"interval_sec"`
	BatchSize   int    `toml:"batch_size"`
	Prefix      string `toml:"prefix"`
}

// Interval returns the archive poll interval as a duration.
func (a ArchiveConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSec) * time.Second
}

// ServerConfig holds the operator API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// Per-client request cap enforced at the HTTP layer. Zero disables it.
	RateLimit     int   `toml:"rate_limit"`
	RateWindowSec int64 `toml:"rate_window_sec"`
}

// RateWindow returns the HTTP rate-limit window as a duration.
func (s ServerConfig) RateWindow() time.Duration {
	return time.Duration(s.RateWindowSec) * time.Second
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	DiscordWebhook string   `toml:"discord_webhook"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// Defaults returns the built-in configuration, carrying the reference protocol
// parameters.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "flowguard",
			User:         "flowguard",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Protocol: ProtocolConfig{
			PerformanceFeeBps:           200,
			ProtocolFeeBps:              50,
			MinRebalanceIntervalSec:     3600,
			MaxRebalanceFrequency:       24,
			DefaultSlippageToleranceBps: 50,
			MaxPositionSize:             1_000_000_000_000,
			MaxSingleTradeSize:          100_000_000_000,
			HumanApprovalThreshold:      500_000_000_000,
			DefaultAIModelVersion:       "v1.0.0",
			MinAccessPayment:            1_000_000,
			AccessWindowSec:             3600,
		},
		Venue: VenueConfig{
			Kind:           "sim",
			SimSlippageBps: 10,
		},
		Archive: ArchiveConfig{
			IntervalSec: 300,
			BatchSize:   500,
			Prefix:      "audit",
		},
		Server: ServerConfig{
			Port:          8080,
			RateWindowSec: 60,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for invalid or missing values. It returns
// an error describing the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "paper", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Protocol.MinRebalanceIntervalSec < 0 {
		return fmt.Errorf("config: min_rebalance_interval_sec must be >= 0")
	}
	if c.Protocol.MaxRebalanceFrequency <= 0 {
		return fmt.Errorf("config: max_rebalance_frequency must be > 0")
	}
	if c.Protocol.DefaultSlippageToleranceBps == 0 {
		return fmt.Errorf("config: default_slippage_tolerance_bps must be > 0")
	}
	if c.Protocol.MaxPositionSize == 0 || c.Protocol.MaxSingleTradeSize == 0 {
		return fmt.Errorf("config: position and trade size caps must be > 0")
	}
	if c.Protocol.ProtocolFeeBps > 10_000 || c.Protocol.PerformanceFeeBps > 10_000 {
		return fmt.Errorf("config: fee bps must not exceed 10000")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	if c.Archive.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: archive enabled but s3 bucket is empty")
	}

	return nil
}

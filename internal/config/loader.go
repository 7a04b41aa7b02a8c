package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLOWGUARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLOWGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLOWGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOWGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOWGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOWGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOWGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOWGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOWGUARD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOWGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOWGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOWGUARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLOWGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOWGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOWGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOWGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOWGUARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLOWGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOWGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOWGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOWGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOWGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOWGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOWGUARD_S3_FORCE_PATH_STYLE")

	// ── Protocol ──
	setUint16(&cfg.Protocol.PerformanceFeeBps, "FLOWGUARD_PROTOCOL_PERFORMANCE_FEE_BPS")
	setUint16(&cfg.Protocol.ProtocolFeeBps, "FLOWGUARD_PROTOCOL_PROTOCOL_FEE_BPS")
	setStr(&cfg.Protocol.FeeRecipient, "FLOWGUARD_PROTOCOL_FEE_RECIPIENT")
	setInt64(&cfg.Protocol.MinRebalanceIntervalSec, "FLOWGUARD_PROTOCOL_MIN_REBALANCE_INTERVAL_SEC")
	setInt(&cfg.Protocol.MaxRebalanceFrequency, "FLOWGUARD_PROTOCOL_MAX_REBALANCE_FREQUENCY")
	setUint16(&cfg.Protocol.DefaultSlippageToleranceBps, "FLOWGUARD_PROTOCOL_DEFAULT_SLIPPAGE_TOLERANCE_BPS")
	setUint64(&cfg.Protocol.MaxPositionSize, "FLOWGUARD_PROTOCOL_MAX_POSITION_SIZE")
	setUint64(&cfg.Protocol.MaxSingleTradeSize, "FLOWGUARD_PROTOCOL_MAX_SINGLE_TRADE_SIZE")
	setUint64(&cfg.Protocol.HumanApprovalThreshold, "FLOWGUARD_PROTOCOL_HUMAN_APPROVAL_THRESHOLD")
	setStr(&cfg.Protocol.DefaultAIModelVersion, "FLOWGUARD_PROTOCOL_DEFAULT_AI_MODEL_VERSION")
	setUint64(&cfg.Protocol.MinAccessPayment, "FLOWGUARD_PROTOCOL_MIN_ACCESS_PAYMENT")
	setStr(&cfg.Protocol.PaymentFacilitator, "FLOWGUARD_PROTOCOL_PAYMENT_FACILITATOR")
	setInt64(&cfg.Protocol.AccessWindowSec, "FLOWGUARD_PROTOCOL_ACCESS_WINDOW_SEC")

	// ── Venue ──
	setBool(&cfg.Venue.LocalOnly, "FLOWGUARD_VENUE_LOCAL_ONLY")
	setStr(&cfg.Venue.Kind, "FLOWGUARD_VENUE_KIND")
	setUint16(&cfg.Venue.SimSlippageBps, "FLOWGUARD_VENUE_SIM_SLIPPAGE_BPS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLOWGUARD_ARCHIVE_ENABLED")
	setInt64(&cfg.Archive.IntervalSec, "FLOWGUARD_ARCHIVE_INTERVAL_SEC")
	setInt(&cfg.Archive.BatchSize, "FLOWGUARD_ARCHIVE_BATCH_SIZE")
	setStr(&cfg.Archive.Prefix, "FLOWGUARD_ARCHIVE_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "FLOWGUARD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FLOWGUARD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FLOWGUARD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "FLOWGUARD_SERVER_RATE_LIMIT")
	setInt64(&cfg.Server.RateWindowSec, "FLOWGUARD_SERVER_RATE_WINDOW_SEC")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhook, "FLOWGUARD_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "FLOWGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOWGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "FLOWGUARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOWGUARD_MODE")
	setStr(&cfg.LogLevel, "FLOWGUARD_LOG_LEVEL")
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

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

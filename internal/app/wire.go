package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/fabrknt/flowguard/internal/blob/s3"
	"github.com/fabrknt/flowguard/internal/cache/redis"
	"github.com/fabrknt/flowguard/internal/config"
	"github.com/fabrknt/flowguard/internal/crypto"
	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/notify"
	"github.com/fabrknt/flowguard/internal/store/postgres"
	"github.com/fabrknt/flowguard/internal/venue/sim"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Persistence
	Stores domain.Stores
	Tx     domain.TxManager

	// Coordination
	Locks   domain.LockManager
	Limiter domain.RateLimiter

	// Venue-side effects. Venue is nil when mirroring is disabled via
	// venue.local_only; services treat that combination as an explicit
	// opt-out rather than an error.
	Venue     domain.VenueAdapter
	LocalOnly bool

	// Payment verification. Nil in paper mode (claims accepted unchecked).
	Verifier domain.FacilitatorVerifier

	// Blob storage. Nil unless the archive loop is enabled.
	Blob domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Stores = postgres.NewStores(pool)
	deps.Tx = postgres.NewTxManager(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)

	// --- Venue adapter ---
	deps.LocalOnly = cfg.Venue.LocalOnly
	switch {
	case mode == "paper" || cfg.Venue.Kind == "sim":
		deps.Venue = sim.New(sim.Config{SlippageBps: cfg.Venue.SimSlippageBps}, logger)
	case cfg.Venue.LocalOnly:
		// Mirroring explicitly disabled; no adapter constructed.
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported venue kind %q", cfg.Venue.Kind)
	}

	// --- Payment verification ---
	if mode != "paper" {
		deps.Verifier = crypto.FacilitatorVerifier{}
	}

	// --- S3 blob storage (only when the archive loop is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

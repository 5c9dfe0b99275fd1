package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/shproduct/internal/blob/s3"
	"github.com/alanyoungcy/shproduct/internal/cache/memory"
	"github.com/alanyoungcy/shproduct/internal/cache/redis"
	"github.com/alanyoungcy/shproduct/internal/config"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/notify"
	"github.com/alanyoungcy/shproduct/internal/server/handler"
	"github.com/alanyoungcy/shproduct/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes run on. It
// is constructed by Wire and torn down by the returned cleanup function.
// Store fields are nil in server mode.
type Dependencies struct {
	// Stores
	CallStore  domain.CallStore
	EventStore domain.EventStore
	AuditStore domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Senders       []notify.Sender
	NotifyLimiter domain.RateLimiter

	// Checks reports liveness of each remote dependency on /api/health.
	Checks map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsRemote reports whether mode persists to Postgres and coordinates
// through Redis.
func needsRemote(mode string) bool {
	return strings.EqualFold(mode, "full")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	if !needsRemote(cfg.Mode) {
		// Server mode keeps the ledger in memory; the in-process bus still
		// feeds the WebSocket hub.
		deps.SignalBus = memory.NewBus(int(cfg.Redis.StreamMaxLen))
		deps.Senders = buildSenders(cfg)
		return deps, cleanup, nil
	}

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
	deps.CallStore = postgres.NewCallStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient

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

	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.RateWindow())
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	if cfg.Notify.MaxPerMinute > 0 {
		deps.NotifyLimiter = redis.NewRateLimiter(redisClient, cfg.Notify.MaxPerMinute, time.Minute)
	}
	deps.Checks["redis"] = redisClient

	// --- S3 statement archive ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
		)
		deps.Checks["s3"] = pingFunc(s3Client.Health)
	}

	deps.Senders = buildSenders(cfg)
	return deps, cleanup, nil
}

// buildSenders returns the configured notification channels.
func buildSenders(cfg *config.Config) []notify.Sender {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return senders
}

// Package app wires the clients and services shared by the API and worker
// processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/esim-admin/internal/audit"
	"github.com/noah-isme/esim-admin/internal/auth"
	"github.com/noah-isme/esim-admin/internal/cache"
	"github.com/noah-isme/esim-admin/internal/catalog"
	"github.com/noah-isme/esim-admin/internal/config"
	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/lock"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/queue"
	"github.com/noah-isme/esim-admin/internal/records"
	"github.com/noah-isme/esim-admin/internal/refund"
	"github.com/noah-isme/esim-admin/internal/resilience"
	"github.com/noah-isme/esim-admin/internal/tasks"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/user"
)

// Options selects per-process behaviour.
type Options struct {
	// Component names the process in logs, NATS and Postgres.
	Component string
	// Tokens supplies the upstream credential. The API forwards the caller's
	// bearer; the worker runs with the static service token.
	Tokens upstream.TokenSource
	// RedisMetrics enables redisotel metrics on the Redis client.
	RedisMetrics bool
}

// Dependencies are the long-lived clients of one process. DB and NATS are
// nil when not configured.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client
	DB       *pgxpool.Pool
	NATS     *nats.Conn
	Tasks    *asynq.Client
	Breaker  *resilience.Breaker
	Upstream *upstream.Client
	Records  tasks.RefreshingStore
	Events   *events.Bus
}

// New connects to Redis (required), Postgres and NATS (optional) and builds
// the upstream client and record store.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if opts.Component == "" {
		opts.Component = "esim-admin"
	}
	d := &Dependencies{Config: cfg, Logger: logger}

	rdb, err := newRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb

	if cfg.DatabaseURL != "" {
		pool, err := newPool(ctx, cfg.DatabaseURL, opts.Component)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	d.Tasks = asynq.NewClient(redisOpt)

	publishers := []events.Publisher{events.LogPublisher{Logger: logger.With().Str("component", "events").Logger()}}
	if cfg.NATSURL != "" {
		nc, err := events.DialNATS(cfg.NATSURL, opts.Component, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		d.NATS = nc
		publishers = append(publishers, events.NATSPublisher{Conn: nc, SubjectPrefix: cfg.EventsSubjectPrefix})
	}
	d.Events = &events.Bus{Publishers: publishers}

	d.Breaker = resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("admin-api").
		WithLogger(logger)
	tokens := opts.Tokens
	if tokens == nil {
		tokens = upstream.ContextToken(cfg.UpstreamStaticToken)
	}
	client, err := upstream.New(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
		Tokens:  tokens,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     d.Breaker,
			BaseBackoff: cfg.UpstreamBackoff,
			MaxAttempts: cfg.UpstreamMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.UpstreamTimeout,
		},
		PageLimit:          cfg.UpstreamPageLimit,
		LegacyStatusDelete: cfg.UpstreamLegacyStatusDelete,
		Logger:             logger.With().Str("component", "upstream").Logger(),
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Upstream = client

	d.Records = tasks.RefreshingStore{
		Store: records.NewStore(client, records.Options{
			TTL:          cfg.RecordsTTL,
			Mirror:       cache.NewJSON(rdb, cfg.RecordsTTL),
			Logger:       logger.With().Str("component", "records").Logger(),
			FetchTimeout: cfg.UpstreamTimeout*time.Duration(cfg.UpstreamMaxAttempts) + 5*time.Second,
		}),
		Queue:  d.Tasks,
		Logger: logger,
	}
	return d, nil
}

// Close releases every connection. It is safe on a partially built value.
func (d *Dependencies) Close() {
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.NATS != nil {
		if err := d.NATS.Drain(); err != nil {
			d.Logger.Error().Err(err).Msg("drain nats")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// JobQueue is the Redis queue carrying bulk price jobs.
func (d *Dependencies) JobQueue() queue.Enqueuer {
	return queue.Enqueuer{
		R:           d.Redis,
		Prefix:      d.Config.QueuePrefix,
		DedupTTL:    d.Config.IdempotencyTTL,
		MaxAttempts: d.Config.QueueMaxAttempts,
	}
}

// JobStatuses stores bulk price job progress.
func (d *Dependencies) JobStatuses() queue.StatusStore {
	return queue.StatusStore{R: d.Redis, Prefix: d.Config.QueuePrefix, TTL: d.Config.JobStatusTTL}
}

// DeadLetters returns the Postgres dead letter store, or nil so the queue
// falls back to a Redis list.
func (d *Dependencies) DeadLetters() queue.Store {
	if d.DB == nil {
		return nil
	}
	return queue.NewStore(d.DB)
}

// CatalogService builds the package and bulk pricing service.
func (d *Dependencies) CatalogService() (*catalog.Service, error) {
	return catalog.NewService(catalog.ServiceConfig{
		API:         d.Upstream,
		Records:     d.Records,
		Events:      d.Events,
		Locker:      lock.Locker{R: d.Redis},
		Queue:       d.JobQueue(),
		Jobs:        d.JobStatuses(),
		Concurrency: d.Config.BulkApplyConcurrency,
		LockTTL:     d.Config.BulkApplyLockTTL,
		Logger:      d.Logger.With().Str("component", "catalog").Logger(),
	})
}

// UserService builds the user management service.
func (d *Dependencies) UserService() (*user.Service, error) {
	return user.NewService(user.ServiceConfig{
		API:     d.Upstream,
		Records: d.Records,
		Events:  d.Events,
		Logger:  d.Logger.With().Str("component", "user").Logger(),
	})
}

// RefundService builds the refund review service.
func (d *Dependencies) RefundService() (*refund.Service, error) {
	return refund.NewService(refund.ServiceConfig{
		API:     d.Upstream,
		Records: d.Records,
		Events:  d.Events,
		Logger:  d.Logger.With().Str("component", "refund").Logger(),
	})
}

// AuthService builds the bearer and API key verifier.
func (d *Dependencies) AuthService() (*auth.Service, error) {
	keys, err := auth.ParseAPIKeys(d.Config.APIKeyHashes)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_API_KEY_HASHES: %w", err)
	}
	return auth.NewService(auth.Config{
		Secret:   d.Config.JWTSecret,
		Issuer:   d.Config.JWTIssuer,
		Audience: d.Config.JWTAudience,
		APIKeys:  keys,
	})
}

// AuditStore returns the Postgres audit store, or nil without a database.
func (d *Dependencies) AuditStore() audit.Store {
	if d.DB == nil {
		return nil
	}
	return audit.PGStore{DB: d.DB}
}

// AuditService records admin mutations when a database is configured.
func (d *Dependencies) AuditService() *audit.Service {
	store := d.AuditStore()
	return &audit.Service{Store: store, Enabled: d.Config.AuditEnabled && store != nil}
}

func newRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newPool(ctx context.Context, url, component string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = component
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ErrNoDatabase is returned by tools that need DATABASE_URL.
var ErrNoDatabase = errors.New("DATABASE_URL is not configured")

// RunMigrations applies every pending migration. An up-to-date schema is not
// an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

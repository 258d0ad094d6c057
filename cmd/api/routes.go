package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/app"
	"github.com/noah-isme/esim-admin/internal/audit"
	"github.com/noah-isme/esim-admin/internal/auth"
	"github.com/noah-isme/esim-admin/internal/cache"
	"github.com/noah-isme/esim-admin/internal/catalog"
	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/config"
	"github.com/noah-isme/esim-admin/internal/health"
	"github.com/noah-isme/esim-admin/internal/listing"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/queue"
	"github.com/noah-isme/esim-admin/internal/ratelimit"
	"github.com/noah-isme/esim-admin/internal/refund"
	"github.com/noah-isme/esim-admin/internal/security"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/user"
)

// api holds the handlers and middleware behind the admin router.
type api struct {
	cfg     *config.Config
	deps    *app.Dependencies
	logger  zerolog.Logger
	tracing bool

	auth        auth.Middleware
	globalLimit func(http.Handler) http.Handler
	bulkLimit   ratelimit.Guard
	idem        common.Idem
	audited     func(action, resource, idParam string) func(http.Handler) http.Handler

	list    *listing.Handler
	users   *user.Handler
	catalog *catalog.Handler
	refunds *refund.Handler
	audit   audit.Handler
	queue   *queue.AdminHandler
}

func newAPI(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) (*api, error) {
	authService, err := deps.AuthService()
	if err != nil {
		return nil, err
	}
	catalogService, err := deps.CatalogService()
	if err != nil {
		return nil, err
	}
	userService, err := deps.UserService()
	if err != nil {
		return nil, err
	}
	refundService, err := deps.RefundService()
	if err != nil {
		return nil, err
	}
	globalLimit, err := ratelimit.NewGlobal(deps.Redis, cfg.RateLimit, "esim-admin:ratelimit:global")
	if err != nil {
		return nil, err
	}

	return &api{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		auth:        auth.Middleware{Service: authService},
		globalLimit: globalLimit,
		bulkLimit: ratelimit.Guard{
			Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "esim-admin:ratelimit"},
			Key:     ratelimit.ByCaller("bulk-price"),
			Window:  cfg.BulkApplyRateWindow,
			Max:     cfg.BulkApplyRateMax,
			Logger:  logger,
		},
		idem:    common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Prefix: cache.KeyIdempotency()},
		audited: audit.Recorder{Service: deps.AuditService(), Logger: logger}.Mutation,
		list: listing.NewHandler(listing.HandlerConfig{
			Store:  deps.Records,
			Limits: listing.Limits{DefaultPageSize: cfg.ViewDefaultPageSize, MaxPageSize: cfg.ViewMaxPageSize},
			Logger: logger,
		}),
		users:   &user.Handler{Service: userService},
		catalog: catalog.NewHandler(catalog.HandlerConfig{Service: catalogService, Async: cfg.BulkApplyAsync}),
		refunds: &refund.Handler{Service: refundService},
		audit:   audit.Handler{Store: deps.AuditStore()},
		queue: &queue.AdminHandler{
			Store:             deps.DeadLetters(),
			Queue:             deps.JobQueue(),
			Logger:            logger,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
		},
	}, nil
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if a.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if a.cfg.Obs.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(a.cfg.Obs.MetricsBuckets)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(a.cfg.Obs.MetricsNamespace, buckets, nil)}.Middleware)
	}
	// the caller is resolved outside the logger so access lines carry it
	r.Use(
		a.auth.Authenticate,
		obs.RequestLogger{Logger: a.logger}.Middleware,
		security.Headers{HSTS: a.cfg.AppEnv == "production", TrustProxy: true}.Middleware,
		security.CORS(a.cfg.CORSAllowedOrigins),
	)

	// middlewares must all be registered before the first route
	if a.cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	probes := a.health()
	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)

	r.Route("/api/v1/admin", a.adminRoutes)
	return r
}

func (a *api) health() health.Handler {
	h := health.Handler{Checks: []health.Check{
		{Name: "redis", Timeout: a.cfg.HealthRedisTimeout, Probe: health.Redis(a.deps.Redis)},
		{Name: "upstream", Optional: true, Probe: health.Breaker(a.deps.Breaker)},
	}}
	if a.deps.DB != nil {
		h.Checks = append(h.Checks, health.Check{
			Name:     "database",
			Timeout:  a.cfg.HealthDBTimeout,
			Optional: true,
			Probe:    health.DB(a.deps.DB),
		})
	}
	return h
}

func (a *api) adminRoutes(r chi.Router) {
	r.Use(a.globalLimit, security.BodyLimit{Max: a.cfg.BodyLimitBytes}.Middleware, a.auth.RequireAuth)

	for path, source := range map[string]upstream.Source{
		"/users":        upstream.SourceUsers,
		"/packages":     upstream.SourcePackages,
		"/refunds":      upstream.SourceRefunds,
		"/applications": upstream.SourceApplications,
		"/orders":       upstream.SourceOrders,
	} {
		r.Get(path, a.list.List(source))
	}

	r.Route("/users/{id}", func(u chi.Router) {
		u.With(a.audited("user.update", "user", "id")).Put("/", a.users.Update)
		u.With(a.audited("user.status", "user", "id")).Patch("/status", a.users.SetStatus)
		u.With(a.audited("user.delete", "user", "id")).Delete("/", a.users.Delete)
	})

	r.With(a.audited("package.create", "package", "")).Post("/packages", a.catalog.Create)
	r.With(a.audited("package.update", "package", "id")).Put("/packages/{id}", a.catalog.Update)
	r.With(a.audited("package.delete", "package", "id")).Delete("/packages/{id}", a.catalog.Delete)
	r.Route("/packages/bulk-price", func(b chi.Router) {
		b.Post("/preview", a.catalog.Preview)
		b.With(a.bulkLimit.Middleware, a.idem.Middleware, a.audited("pricing.bulk_apply", "package", "")).Post("/apply", a.catalog.Apply)
		b.Get("/jobs/{id}", a.catalog.Job)
	})

	r.With(a.audited("refund.update", "refund", "id")).Patch("/refunds/{id}", a.refunds.PatchStatus)
	r.Get("/audit", a.audit.List)

	r.Route("/queue", func(q chi.Router) {
		q.Get("/stats", a.queue.Stats)
		q.Get("/dlq", a.queue.ListDLQ)
		q.With(a.audited("queue.replay", "queue", "")).Post("/dlq/replay", a.queue.ReplayDLQ)
	})
}

// Package config reads the API and worker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the full process configuration. Every field maps to one
// environment variable, documented next to its default in Parse.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	APIKeyHashes       []string
	CORSAllowedOrigins []string

	UpstreamBaseURL     string
	UpstreamStaticToken string
	UpstreamTimeout     time.Duration
	UpstreamMaxAttempts int
	UpstreamBackoff     time.Duration
	UpstreamPageLimit   int

	RecordsTTL          time.Duration
	ViewDefaultPageSize int
	ViewMaxPageSize     int

	NATSURL             string
	EventsSubjectPrefix string
	RateLimit           string
	BulkApplyAsync      bool
	AuditEnabled        bool

	LogFormat string
	LogLevel  string

	UpstreamLegacyStatusDelete bool
	BreakerMinRequests         int
	BreakerFailureRatio        float64
	BreakerOpenFor             time.Duration

	BodyLimitBytes int64
	IdempotencyTTL time.Duration

	BulkApplyConcurrency int
	BulkApplyLockTTL     time.Duration
	BulkApplyRateMax     int
	BulkApplyRateWindow  time.Duration

	QueuePrefix            string
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueMaxAttempts       int
	QueueRetryBase         time.Duration
	JobStatusTTL           time.Duration
	RefreshConcurrency     int

	Obs Obs

	HealthRedisTimeout time.Duration
	HealthDBTimeout    time.Duration
	ShutdownTimeout    time.Duration
}

// Obs holds the metrics and tracing switches shared by both binaries.
type Obs struct {
	MetricsEnabled   bool
	MetricsNamespace string
	// MetricsBuckets is a comma separated list of latency buckets in ms.
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(env.Provider("", ".", strings.TrimSpace))
}

// Parse builds a Config from vars alone, ignoring the process environment.
func Parse(vars map[string]string) (*Config, error) {
	return load(varsProvider(vars))
}

func load(p koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(p, nil); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	v := values{k}

	cfg := &Config{
		AppEnv:             v.str("APP_ENV", "development"),
		Port:               v.str("PORT", "8080"),
		DatabaseURL:        v.str("DATABASE_URL", ""),
		RedisURL:           v.str("REDIS_URL", ""),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          v.str("JWT_ISSUER", ""),
		JWTAudience:        v.str("JWT_AUDIENCE", ""),
		APIKeyHashes:       v.list("ADMIN_API_KEY_HASHES", ";"),
		CORSAllowedOrigins: v.list("CORS_ALLOWED_ORIGINS", ","),

		UpstreamBaseURL:     v.str("UPSTREAM_BASE_URL", ""),
		UpstreamStaticToken: v.str("UPSTREAM_STATIC_TOKEN", ""),
		UpstreamTimeout:     v.dur("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamMaxAttempts: v.num("UPSTREAM_MAX_ATTEMPTS", 3),
		UpstreamBackoff:     v.dur("UPSTREAM_BACKOFF", 200*time.Millisecond),
		UpstreamPageLimit:   v.num("UPSTREAM_PAGE_LIMIT", 100),

		RecordsTTL:          v.dur("RECORDS_TTL", 2*time.Minute),
		ViewDefaultPageSize: v.num("VIEW_DEFAULT_PAGE_SIZE", 10),
		ViewMaxPageSize:     v.num("VIEW_MAX_PAGE_SIZE", 100),

		NATSURL:             v.str("NATS_URL", ""),
		EventsSubjectPrefix: v.str("EVENTS_SUBJECT_PREFIX", "esim-admin."),
		RateLimit:           v.str("RATE_LIMIT", "300-M"),
		BulkApplyAsync:      v.flag("BULK_APPLY_ASYNC", false),
		AuditEnabled:        v.flag("AUDIT_ENABLED", true),

		LogFormat: v.str("LOG_FORMAT", "json"),
		LogLevel:  v.str("LOG_LEVEL", "info"),

		UpstreamLegacyStatusDelete: v.flag("UPSTREAM_LEGACY_STATUS_DELETE", false),
		BreakerMinRequests:         v.num("UPSTREAM_BREAKER_MIN_REQUESTS", 20),
		BreakerFailureRatio:        v.ratio("UPSTREAM_BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenFor:             v.dur("UPSTREAM_BREAKER_OPEN_FOR", 30*time.Second),

		BodyLimitBytes: int64(v.num("HTTP_BODY_LIMIT_BYTES", 1<<20)),
		IdempotencyTTL: v.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		BulkApplyConcurrency: v.num("BULK_APPLY_CONCURRENCY", 4),
		BulkApplyLockTTL:     v.dur("BULK_APPLY_LOCK_TTL", 2*time.Minute),
		BulkApplyRateMax:     v.num("BULK_APPLY_RATE_MAX", 5),
		BulkApplyRateWindow:  v.dur("BULK_APPLY_RATE_WINDOW", time.Minute),

		QueuePrefix:            v.str("QUEUE_REDIS_PREFIX", "esim-admin"),
		QueueConcurrency:       v.num("QUEUE_CONCURRENCY", 2),
		QueueVisibilityTimeout: v.dur("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		QueueMaxAttempts:       v.num("QUEUE_MAX_ATTEMPTS", 5),
		QueueRetryBase:         v.dur("QUEUE_RETRY_BASE", 2*time.Second),
		JobStatusTTL:           v.dur("JOB_STATUS_TTL", 24*time.Hour),
		RefreshConcurrency:     v.num("REFRESH_CONCURRENCY", 2),

		Obs: Obs{
			MetricsEnabled:   v.flag("OBS_ENABLE_PROMETHEUS", true),
			MetricsNamespace: v.str("OBS_METRICS_NAMESPACE", "esim_admin"),
			MetricsBuckets:   v.str("OBS_METRICS_BUCKETS_MS", ""),
			TracingEnabled:   v.flag("OBS_ENABLE_TRACING", true),
			TracingExporter:  v.str("OBS_TRACING_EXPORTER", "otlp"),
			OTLPEndpoint:     v.str("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio:    v.ratio("OBS_TRACING_SAMPLING_RATIO", 1),
		},

		HealthRedisTimeout: v.millis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		HealthDBTimeout:    v.millis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		ShutdownTimeout:    v.millis("SHUTDOWN_TIMEOUT_MS", 15000),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects settings the process cannot start with and repairs the
// page size bounds.
func (c *Config) validate() error {
	switch {
	case c.RedisURL == "":
		return errors.New("REDIS_URL is required")
	case c.JWTSecret == "" && len(c.APIKeyHashes) == 0:
		return errors.New("JWT_SECRET is required")
	case c.UpstreamBaseURL == "":
		return errors.New("UPSTREAM_BASE_URL is required")
	}
	if err := checkBaseURL(c.UpstreamBaseURL); err != nil {
		return fmt.Errorf("UPSTREAM_BASE_URL: %w", err)
	}
	if c.BulkApplyLockTTL <= 0 || c.BulkApplyLockTTL >= c.QueueVisibilityTimeout {
		return errors.New("BULK_APPLY_LOCK_TTL must be positive and shorter than QUEUE_VISIBILITY_TIMEOUT")
	}
	if c.ViewMaxPageSize < 1 {
		c.ViewMaxPageSize = 100
	}
	if c.ViewDefaultPageSize < 1 || c.ViewDefaultPageSize > c.ViewMaxPageSize {
		c.ViewDefaultPageSize = min(10, c.ViewMaxPageSize)
	}
	return nil
}

// HTTPAddr is the listen address for the API server.
func (c *Config) HTTPAddr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

func checkBaseURL(raw string) error {
	if strings.ContainsAny(raw, " \t\n") {
		return errors.New("must not contain whitespace")
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return err
	case u.Scheme != "http" && u.Scheme != "https":
		return errors.New("scheme must be http or https")
	case u.Host == "":
		return errors.New("host is required")
	}
	return nil
}

// values reads typed settings from koanf. Blank or malformed values fall
// back to the default.
type values struct{ k *koanf.Koanf }

func (v values) raw(key string) string { return strings.TrimSpace(v.k.String(key)) }

func (v values) str(key, def string) string {
	if s := v.raw(key); s != "" {
		return s
	}
	return def
}

func (v values) num(key string, def int) int {
	n, err := strconv.Atoi(v.raw(key))
	if err != nil {
		return def
	}
	return n
}

func (v values) ratio(key string, def float64) float64 {
	f, err := strconv.ParseFloat(v.raw(key), 64)
	if err != nil {
		return def
	}
	return f
}

func (v values) dur(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.raw(key))
	if err != nil {
		return def
	}
	return d
}

// millis reads a whole number of milliseconds.
func (v values) millis(key string, def int) time.Duration {
	return time.Duration(v.num(key, def)) * time.Millisecond
}

func (v values) flag(key string, def bool) bool {
	switch strings.ToLower(v.raw(key)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return def
}

// list splits on sep and drops blanks. API key hashes use ";" because
// argon2id hashes contain commas.
func (v values) list(key, sep string) []string {
	var out []string
	for _, part := range strings.Split(v.raw(key), sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// varsProvider is a koanf.Provider over a fixed set of variables.
type varsProvider map[string]string

func (p varsProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: vars provider does not support ReadBytes")
}

func (p varsProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(p))
	for key, val := range p {
		out[key] = val
	}
	return out, nil
}

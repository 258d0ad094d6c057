package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esim-admin/internal/app"
	"github.com/noah-isme/esim-admin/internal/config"
	"github.com/noah-isme/esim-admin/internal/health"
	"github.com/noah-isme/esim-admin/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracing, flush := startTracing(cfg, logger)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger, app.Options{Component: "esim-admin-api", RedisMetrics: cfg.Obs.MetricsEnabled})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	a, err := newAPI(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise handlers")
	}
	a.tracing = tracing

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		health.SetReady(false)
		logger.Info().Msg("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("upstream", deps.Upstream.BaseURL()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// startTracing installs the tracer provider when enabled. A failed exporter
// setup disables tracing instead of stopping the server.
func startTracing(cfg *config.Config, logger zerolog.Logger) (bool, func()) {
	if !cfg.Obs.TracingEnabled {
		return false, func() {}
	}
	shutdown, err := obs.Tracing{
		Service:     "esim-admin-api",
		Environment: cfg.AppEnv,
		Exporter:    cfg.Obs.TracingExporter,
		Endpoint:    cfg.Obs.OTLPEndpoint,
		Ratio:       cfg.Obs.SamplingRatio,
	}.Start(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return false, func() {}
	}
	return true, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}
}

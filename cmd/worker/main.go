package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esim-admin/internal/app"
	"github.com/noah-isme/esim-admin/internal/config"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/queue"
	"github.com/noah-isme/esim-admin/internal/tasks"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	if cfg.UpstreamStaticToken == "" {
		logger.Warn().Msg("UPSTREAM_STATIC_TOKEN is empty; upstream calls will be unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger, app.Options{
		Component: "esim-admin-worker",
		Tokens:    upstream.StaticToken(cfg.UpstreamStaticToken),
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	catalogService, err := deps.CatalogService()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	bulkWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueuePrefix,
		Kind:              queue.KindBulkPriceApply,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.BulkApplyLockTTL,
		RetryBase:         cfg.QueueRetryBase,
		RetryJitter:       0.2,
		Store:             deps.DeadLetters(),
		Logger:            &logger,
		Handler:           catalogService.RunJob,
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for tasks")
	}
	taskServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.RefreshConcurrency,
		Logger:          tasks.Logger{L: logger.With().Str("component", "asynq").Logger()},
		ShutdownTimeout: 10 * time.Second,
	})
	mux := asynq.NewServeMux()
	tasks.Register(mux, tasks.RefreshHandler{
		Records: deps.Records,
		Logger:  logger,
	})

	logger.Info().Str("upstream", deps.Upstream.BaseURL()).Msg("worker starting")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bulkWorker.Run(gctx)
	})
	g.Go(func() error {
		if err := taskServer.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		taskServer.Shutdown()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

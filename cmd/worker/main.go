package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/thisshopissogay/shop/internal/app"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/images"
	jobmetrics "github.com/thisshopissogay/shop/internal/jobs"
	"github.com/thisshopissogay/shop/internal/observability"
	"github.com/thisshopissogay/shop/internal/platform/cache"
	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/reports"
	"github.com/thisshopissogay/shop/internal/shared"
	"github.com/thisshopissogay/shop/internal/storage"
	"github.com/thisshopissogay/shop/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, catalog invalidation disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	observed := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(observed.Registerer())

	catalogService := catalog.NewService(
		catalog.NewRepository(pool),
		cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL),
		nil,
		logger,
	)
	imageService := images.NewService(images.Config{
		Store:            storage.NewClient(cfg.StorageURL, cfg.StorageServiceKey),
		Repo:             images.NewRepository(pool),
		Catalog:          catalogService,
		OriginalBucket:   cfg.StorageOriginalBucket,
		DerivativeBucket: cfg.StorageDerivativeBucket,
		Logger:           logger,
	})
	reportService := reports.NewService(
		reports.NewRepository(pool),
		reports.NewTogglClient(cfg.TogglAPIURL, cfg.TogglAPIToken, cfg.TogglWorkspaceID),
		reports.NewGitHubClient(cfg.GitHubAPIURL, cfg.GitHubToken, cfg.GitHubRepo),
		logger,
	)

	imageJob := jobs.NewImageJob(imageService, logger, metrics)
	reportJob := jobs.NewReportJob(reportService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetentionHrs)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskImageDerivative, Handler: imageJob.HandleDerivative},
			{Type: jobs.TaskImagesRegenerate, Handler: imageJob.HandleRegenerate},
			{Type: jobs.TaskReportGenerate, Handler: reportJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReportCron, Task: jobs.NewReportGenerateTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           observed.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

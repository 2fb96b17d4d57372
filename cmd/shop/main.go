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

	"github.com/thisshopissogay/shop/internal/analytics"
	"github.com/thisshopissogay/shop/internal/app"
	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/basket"
	"github.com/thisshopissogay/shop/internal/carrier"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/checkout"
	"github.com/thisshopissogay/shop/internal/images"
	"github.com/thisshopissogay/shop/internal/observability"
	"github.com/thisshopissogay/shop/internal/orders"
	"github.com/thisshopissogay/shop/internal/payments"
	"github.com/thisshopissogay/shop/internal/platform/cache"
	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/reports"
	"github.com/thisshopissogay/shop/internal/settings"
	"github.com/thisshopissogay/shop/internal/shared"
	"github.com/thisshopissogay/shop/internal/storage"
	"github.com/thisshopissogay/shop/internal/webhooks"
	"github.com/thisshopissogay/shop/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	authz := auth.Middleware{
		Verifier: auth.NewVerifier(cfg.AuthJWTSecret, ""),
		Grants:   auth.NewRepository(pool),
		Logger:   logger,
	}
	idempotency := shared.NewIdempotencyStore(pool)

	settingsService := settings.NewService(settings.NewRepository(pool), cache.NewJSONCache(redisClient, "settings", cfg.CatalogCacheTTL), logger)

	gateway := payments.NewGateway(payments.GatewayConfig{
		SecretKey:       cfg.StripeSecretKey,
		Currency:        cfg.StoreCurrency,
		SuccessURL:      cfg.CheckoutSuccessURL,
		CancelURL:       cfg.CheckoutCancelURL,
		PriceCurrencies: cfg.PricePointCurrencies(),
		Rates:           settingsService,
		Logger:          logger,
	})
	analyticsClient := analytics.NewClient(cfg.GAEndpoint, cfg.GAMeasurementID, cfg.GAAPISecret)
	if !analyticsClient.Enabled() {
		logger.Info("analytics disabled, no measurement credentials")
	}
	carrierClient := carrier.NewClient(cfg.CarrierAPIURL, cfg.CarrierAPIKey)
	storageClient := storage.NewClient(cfg.StorageURL, cfg.StorageServiceKey)

	catalogService := catalog.NewService(
		catalog.NewRepository(pool),
		cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL),
		gateway,
		logger,
	)
	basketService := basket.NewService(catalogService)
	checkoutService := checkout.NewService(checkout.Config{
		Basket:     basketService,
		Gateway:    gateway,
		Rates:      settingsService,
		Currency:   cfg.StoreCurrency,
		Currencies: cfg.PricePointCurrencies(),
		ImageURL: func(name string) string {
			return storageClient.PublicURL(cfg.StorageDerivativeBucket, name)
		},
	})

	ordersRepo := orders.NewRepository(pool)
	completer := orders.NewCompleter(orders.CompleterConfig{
		Repo:       ordersRepo,
		Payments:   gateway,
		Products:   catalogService,
		Carrier:    carrierClient,
		Tracker:    analyticsClient,
		Production: cfg.IsProduction(),
		Logger:     logger,
	})
	refunds := orders.NewRefundRecorder(ordersRepo, logger)
	aggregator := orders.NewAggregator(ordersRepo, carrierClient)

	imageService := images.NewService(images.Config{
		Store:            storageClient,
		Repo:             images.NewRepository(pool),
		Catalog:          catalogService,
		OriginalBucket:   cfg.StorageOriginalBucket,
		DerivativeBucket: cfg.StorageDerivativeBucket,
		Logger:           logger,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	reportService := reports.NewService(
		reports.NewRepository(pool),
		reports.NewTogglClient(cfg.TogglAPIURL, cfg.TogglAPIToken, cfg.TogglWorkspaceID),
		reports.NewGitHubClient(cfg.GitHubAPIURL, cfg.GitHubToken, cfg.GitHubRepo),
		logger,
	)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		CatalogHandler:  catalog.NewHandler(logger, catalogService, authz, analyticsClient),
		BasketHandler:   basket.NewHandler(logger, basketService),
		CheckoutHandler: checkout.NewHandler(logger, checkoutService),
		OrdersHandler:   orders.NewHandler(logger, aggregator, ordersRepo, authz, shared.NewAuditLogger(pool)),
		ImagesHandler:   images.NewHandler(logger, imageService, jobClient, authz),
		SettingsHandler: settings.NewHandler(logger, settingsService),
		ReportsHandler:  reports.NewHandler(logger, reportService, authz),
		StripeWebhook: webhooks.NewStripeHandler(logger,
			payments.NewWebhookVerifier(cfg.StripeWebhookSecret), idempotency, completer, refunds, metrics),
		StorageWebhook: webhooks.NewStorageHandler(logger,
			cfg.StorageWebhookSecret, cfg.StorageOriginalBucket, jobClient, imageService, metrics),
		JobHandler: jobs.NewHandler(inspector, logger),
		RateLimit:  cfg.RateLimit,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Bool("production", cfg.IsProduction()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

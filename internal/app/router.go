package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/basket"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/checkout"
	"github.com/thisshopissogay/shop/internal/images"
	"github.com/thisshopissogay/shop/internal/observability"
	"github.com/thisshopissogay/shop/internal/orders"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/reports"
	"github.com/thisshopissogay/shop/internal/settings"
	"github.com/thisshopissogay/shop/internal/webhooks"
	"github.com/thisshopissogay/shop/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	CatalogHandler  *catalog.Handler
	BasketHandler   *basket.Handler
	CheckoutHandler *checkout.Handler
	OrdersHandler   *orders.Handler
	ImagesHandler   *images.Handler
	SettingsHandler *settings.Handler
	ReportsHandler  *reports.Handler
	StripeWebhook   *webhooks.StripeHandler
	StorageWebhook  *webhooks.StorageHandler
	JobHandler      *jobs.Handler

	// RateLimit caps public API requests per IP per minute. Zero disables it.
	RateLimit int
}

// NewRouter constructs the chi.Router with storefront defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Webhooks are exempt from the per-IP limiter.
	if params.StripeWebhook != nil {
		params.StripeWebhook.MountRoutes(r)
	}
	if params.StorageWebhook != nil {
		params.StorageWebhook.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.RateLimit > 0 {
			r.Use(RateLimit(params.RateLimit, time.Minute))
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.BasketHandler != nil {
			params.BasketHandler.MountRoutes(r)
		}
		if params.CheckoutHandler != nil {
			params.CheckoutHandler.MountRoutes(r)
		}
		if params.OrdersHandler != nil {
			params.OrdersHandler.MountRoutes(r)
		}
		if params.ImagesHandler != nil {
			params.ImagesHandler.MountRoutes(r)
		}
		if params.SettingsHandler != nil {
			params.SettingsHandler.MountRoutes(r)
		}
		if params.ReportsHandler != nil {
			params.ReportsHandler.MountRoutes(r)
		}
	})
	return r
}

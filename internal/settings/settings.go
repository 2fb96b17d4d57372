// Package settings reads the site_settings table.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/thisshopissogay/shop/internal/platform/cache"
	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// KeyCurrencyRates holds GBP to currency multipliers, e.g. {"EUR": 1.17}.
const KeyCurrencyRates = "currency_rates"

// ErrNotFound indicates a missing setting.
var ErrNotFound = errors.New("settings: not found")

// Repository loads settings rows.
type Repository interface {
	Public(ctx context.Context) (map[string]json.RawMessage, error)
	Get(ctx context.Context, key string) (json.RawMessage, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

func (r *repository) Public(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM site_settings WHERE is_public ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("settings: query public: %w", err)
	}
	defer rows.Close()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := r.db.QueryRow(ctx, `SELECT value FROM site_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return value, nil
}

// Service caches settings reads.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	logger *slog.Logger
}

// NewService constructs a Service. A nil cache reads straight through.
func NewService(repo Repository, c *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

// Public returns the settings flagged public.
func (s *Service) Public(ctx context.Context) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	err := s.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.Public(ctx)
	}, "public")
	return out, err
}

// CurrencyRates returns the configured exchange multipliers keyed by upper-case
// ISO code. A missing setting yields an empty map.
func (s *Service) CurrencyRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw json.RawMessage
	err := s.fetch(ctx, &raw, func(ctx context.Context) (any, error) {
		v, err := s.repo.Get(ctx, KeyCurrencyRates)
		if errors.Is(err, ErrNotFound) {
			return json.RawMessage(`{}`), nil
		}
		return v, err
	}, KeyCurrencyRates)
	if err != nil {
		return nil, err
	}
	var parsed map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", KeyCurrencyRates, err)
	}
	rates := make(map[string]decimal.Decimal, len(parsed))
	for code, rate := range parsed {
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}

func (s *Service) fetch(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		s.logger.Warn("settings cache key", slog.Any("error", err))
		return (*cache.JSONCache)(nil).Fetch(ctx, "", dest, loader)
	}
	return s.cache.Fetch(ctx, key, dest, loader)
}

// Handler serves public settings.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a settings Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/settings", h.public)
}

func (h *Handler) public(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Public(r.Context())
	if err != nil {
		h.logger.Error("settings public", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

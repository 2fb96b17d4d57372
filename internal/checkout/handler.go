package checkout

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// Handler serves checkout endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a checkout Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/checkout", func(r chi.Router) {
		r.Post("/sessions", h.create)
		r.Get("/sessions/{id}", h.get)
		r.Get("/price-points", h.pricePoints)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.GAClientID == nil {
		if id := strings.TrimSpace(r.Header.Get("X-GA-Client-ID")); id != "" {
			req.GAClientID = &id
		}
	}
	created, err := h.service.Create(r.Context(), req)
	if err != nil {
		if se, ok := AsStockError(err); ok {
			httpx.JSON(w, http.StatusConflict, map[string]any{
				"error":         "insufficient stock",
				"discrepancies": se.Discrepancies,
			})
			return
		}
		h.logger.Error("checkout create session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Warn("checkout get session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) pricePoints(w http.ResponseWriter, r *http.Request) {
	price, err := decimal.NewFromString(r.URL.Query().Get("price"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "price must be a decimal")
		return
	}
	points, err := h.service.PricePoints(r.Context(), price)
	if err != nil {
		h.logger.Error("checkout price points", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, points)
}

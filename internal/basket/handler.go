package basket

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

const maxItems = 100

// Request wraps the basket array for validation.
type Request struct {
	Items []Item `validate:"required,min=1,dive"`
}

// Handler serves basket endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a basket Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers basket routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/basket/reconcile", h.reconcile)
	r.Post("/basket/stock", h.stock)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := h.bind(w, r)
	if !ok {
		return
	}
	out, err := h.service.Reconcile(r.Context(), req.Items)
	if err != nil {
		h.logger.Error("basket reconcile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	req, ok := h.bind(w, r)
	if !ok {
		return
	}
	out, err := h.service.StockCheck(r.Context(), req.Items)
	if err != nil {
		h.logger.Error("basket stock check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	if err := httpx.DecodeJSON(r, &req.Items); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	if len(req.Items) > maxItems {
		httpx.RespondError(w, fmt.Errorf("%w: too many basket lines", httpx.ErrValidation))
		return req, false
	}
	return req, true
}

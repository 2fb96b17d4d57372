package reports

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/shared"
)

// GenerateRequest selects the summarised period.
type GenerateRequest struct {
	PeriodStart time.Time `json:"periodStart" validate:"required"`
	PeriodEnd   time.Time `json:"periodEnd" validate:"required,gtfield=PeriodStart"`
}

// Handler serves report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    auth.Middleware
}

// NewHandler builds a reports Handler.
func NewHandler(logger *slog.Logger, service *Service, authz auth.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: authz}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.auth.RequireRoleOrPermission(auth.RoleSuperuser, shared.PermReportsView)).Get("/reports", h.list)
	r.With(h.auth.RequireRoleOrPermission(auth.RoleSuperuser, shared.PermReportsCreate)).Post("/reports", h.generate)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.service.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("reports list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rep, err := h.service.Generate(r.Context(), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.logger.Error("reports generate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rep)
}

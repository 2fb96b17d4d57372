package orders

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/shared"
)

// Auditor records staff actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler serves the staff order endpoints.
type Handler struct {
	logger     *slog.Logger
	aggregator *Aggregator
	repo       Repository
	auth       auth.Middleware
	audit      Auditor
}

// NewHandler builds an orders Handler. audit may be nil.
func NewHandler(logger *slog.Logger, aggregator *Aggregator, repo Repository, authz auth.Middleware, audit Auditor) *Handler {
	return &Handler{logger: logger, aggregator: aggregator, repo: repo, auth: authz, audit: audit}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.auth.RequireRoleOrPermission(auth.RoleStaff, shared.PermOrdersView)).Get("/orders", h.list)
	r.With(h.auth.RequireRoleOrPermission(auth.RoleManager, shared.PermOrdersFulfil)).Patch("/orders/{id}/fulfilled", h.setFulfilled)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	views, err := h.aggregator.List(r.Context())
	if err != nil {
		h.logger.Error("orders list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

type fulfilledRequest struct {
	Fulfilled *bool `json:"fulfilled" validate:"required"`
}

func (h *Handler) setFulfilled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req fulfilledRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.repo.SetFulfilled(r.Context(), id, *req.Fulfilled); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "order not found")
			return
		}
		h.logger.Error("orders set fulfilled", slog.String("order", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && h.audit != nil {
		entry := shared.AuditLog{
			ActorID:  principal.UserID,
			Action:   "orders.set_fulfilled",
			Entity:   "order",
			EntityID: id,
			Meta:     map[string]any{"fulfilled": *req.Fulfilled},
		}
		if err := h.audit.Record(r.Context(), entry); err != nil {
			h.logger.Warn("orders audit", slog.String("order", id), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "fulfilled": *req.Fulfilled})
}

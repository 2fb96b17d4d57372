package images

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/shared"
)

const maxUploadBytes = 20 << 20

// RegenerateEnqueuer schedules the bulk regeneration job.
type RegenerateEnqueuer interface {
	EnqueueRegenerateImages(ctx context.Context) (string, error)
}

// Handler serves the image admin endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	jobs    RegenerateEnqueuer
	auth    auth.Middleware
}

// NewHandler builds an images Handler.
func NewHandler(logger *slog.Logger, service *Service, jobs RegenerateEnqueuer, authz auth.Middleware) *Handler {
	return &Handler{logger: logger, service: service, jobs: jobs, auth: authz}
}

// MountRoutes registers image routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.auth.RequireRoleOrPermission(auth.RoleManager, shared.PermImagesUpload)).Post("/products/{sku}/images", h.upload)
	r.With(h.auth.RequireRole(auth.RoleSuperuser)).Post("/images/regenerate", h.regenerate)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	sku, err := strconv.ParseInt(chi.URLParam(r, "sku"), 10, 64)
	if err != nil || sku <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sku")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "multipart form with a file field required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "file field required")
		return
	}
	defer func() {
		_ = file.Close()
	}()
	data, err := io.ReadAll(file)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable file")
		return
	}

	img, err := h.service.Upload(r.Context(), UploadRequest{
		SKU:            sku,
		Data:           data,
		Global:         formBool(r, "global"),
		Representative: formBool(r, "representative"),
		Icon:           formBool(r, "icon"),
	})
	if err != nil {
		h.logger.Error("images upload", slog.Int64("sku", sku), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, img)
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobs.EnqueueRegenerateImages(r.Context())
	if err != nil {
		h.logger.Error("images enqueue regenerate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task": id})
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}

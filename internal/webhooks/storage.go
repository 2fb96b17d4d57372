package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/observability"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

const (
	// SourceStorage labels storage webhook metrics.
	SourceStorage = "storage"

	maxStoragePayload = 1 << 20
)

// DerivativeEnqueuer schedules derivative generation for an original.
type DerivativeEnqueuer interface {
	EnqueueImageDerivative(ctx context.Context, name string) (string, error)
}

// DerivativeRemover removes the derivative of a deleted original.
type DerivativeRemover interface {
	RemoveDerivative(ctx context.Context, name string) error
}

// objectRecord is a row of the storage objects table.
type objectRecord struct {
	Name     string `json:"name"`
	BucketID string `json:"bucket_id"`
}

// objectEvent is the database webhook payload for storage object changes.
type objectEvent struct {
	Type      string        `json:"type"`
	Table     string        `json:"table"`
	Record    *objectRecord `json:"record"`
	OldRecord *objectRecord `json:"old_record"`
}

// StorageHandler reacts to originals being uploaded or deleted.
type StorageHandler struct {
	logger   *slog.Logger
	secret   []byte
	bucket   string
	enqueuer DerivativeEnqueuer
	remover  DerivativeRemover
	observer Observer
}

// NewStorageHandler wires the handler for the originals bucket.
func NewStorageHandler(logger *slog.Logger, secret, originalBucket string, enqueuer DerivativeEnqueuer, remover DerivativeRemover, observer Observer) *StorageHandler {
	return &StorageHandler{
		logger:   logger,
		secret:   []byte(secret),
		bucket:   originalBucket,
		enqueuer: enqueuer,
		remover:  remover,
		observer: observer,
	}
}

// MountRoutes registers the storage webhook routes.
func (h *StorageHandler) MountRoutes(r chi.Router) {
	r.Route("/webhooks/storage", func(r chi.Router) {
		r.Use(h.authorize)
		r.Post("/upload", h.upload)
		r.Post("/delete", h.delete)
	})
}

func (h *StorageHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil || len(h.secret) == 0 || subtle.ConstantTimeCompare([]byte(token), h.secret) != 1 {
			h.observe("", observability.OutcomeRejected)
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *StorageHandler) upload(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.decode(w, r, func(evt objectEvent) *objectRecord { return evt.Record })
	if !ok {
		return
	}
	if rec == nil {
		h.observe("upload", observability.OutcomeIgnored)
		httpx.JSON(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	}
	task, err := h.enqueuer.EnqueueImageDerivative(r.Context(), rec.Name)
	if err != nil {
		h.logger.Error("webhooks enqueue derivative", slog.String("object", rec.Name), slog.Any("error", err))
		h.observe("upload", observability.OutcomeFailed)
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("webhooks derivative queued", slog.String("object", rec.Name), slog.String("task", task))
	h.observe("upload", observability.OutcomeProcessed)
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task": task})
}

func (h *StorageHandler) delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.decode(w, r, func(evt objectEvent) *objectRecord { return evt.OldRecord })
	if !ok {
		return
	}
	if rec == nil {
		h.observe("delete", observability.OutcomeIgnored)
		httpx.JSON(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	}
	if err := h.remover.RemoveDerivative(r.Context(), rec.Name); err != nil {
		h.logger.Error("webhooks remove derivative", slog.String("object", rec.Name), slog.Any("error", err))
		h.observe("delete", observability.OutcomeFailed)
		httpx.RespondError(w, err)
		return
	}
	h.observe("delete", observability.OutcomeProcessed)
	httpx.JSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// decode returns the relevant object row, or nil when the event concerns another
// bucket or carries no row.
func (h *StorageHandler) decode(w http.ResponseWriter, r *http.Request, pick func(objectEvent) *objectRecord) (*objectRecord, bool) {
	var evt objectEvent
	// rows carry many more columns than objectRecord names
	if err := json.NewDecoder(io.LimitReader(r.Body, maxStoragePayload)).Decode(&evt); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed storage event")
		return nil, false
	}
	rec := pick(evt)
	if rec == nil || rec.BucketID != h.bucket || strings.TrimSpace(rec.Name) == "" {
		return nil, true
	}
	return rec, true
}

func (h *StorageHandler) observe(eventType, result string) {
	if h.observer != nil {
		h.observer.ObserveWebhook(SourceStorage, eventType, result)
	}
}

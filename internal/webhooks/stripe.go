// Package webhooks receives vendor callbacks: payment events and storage object
// notifications.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/observability"
	"github.com/thisshopissogay/shop/internal/orders"
	"github.com/thisshopissogay/shop/internal/payments"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/shared"
)

const (
	// SourceStripe labels payment webhook metrics.
	SourceStripe = "stripe"
	// StripeModule scopes processed event ids in the idempotency store.
	StripeModule = "stripe_webhook"

	maxStripePayload = 65536
)

// EventVerifier authenticates a signed payload.
type EventVerifier interface {
	Verify(payload []byte, header string) (payments.Event, error)
}

// Deduper records processed keys.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// OrderCompleter runs the checkout completion workflow.
type OrderCompleter interface {
	Complete(ctx context.Context, raw json.RawMessage) orders.CompletionResult
}

// RefundRecorder persists refunds.
type RefundRecorder interface {
	Record(ctx context.Context, raw json.RawMessage) error
}

// Observer receives webhook metrics.
type Observer interface {
	ObserveWebhook(source, eventType, outcome string)
	ObserveOrderStep(step string, ok bool)
}

type outcome struct {
	status int
	body   any
}

type eventFunc func(ctx context.Context, event payments.Event) outcome

// StripeHandler verifies, deduplicates and dispatches payment events.
type StripeHandler struct {
	logger   *slog.Logger
	verifier EventVerifier
	dedupe   Deduper
	observer Observer
	dispatch map[string]eventFunc
}

// NewStripeHandler wires the handler. Only the event types in the dispatch
// table are processed.
func NewStripeHandler(logger *slog.Logger, verifier EventVerifier, dedupe Deduper, completer OrderCompleter, refunds RefundRecorder, observer Observer) *StripeHandler {
	h := &StripeHandler{logger: logger, verifier: verifier, dedupe: dedupe, observer: observer}
	h.dispatch = map[string]eventFunc{
		payments.EventCheckoutCompleted: func(ctx context.Context, event payments.Event) outcome {
			result := completer.Complete(ctx, event.Object)
			h.observeStep("order", result.Order.OK)
			h.observeStep("analytics", result.Analytics.OK)
			if !result.Order.OK {
				return outcome{status: http.StatusInternalServerError, body: result}
			}
			return outcome{status: http.StatusOK, body: result}
		},
		payments.EventRefundCreated: func(ctx context.Context, event payments.Event) outcome {
			if err := refunds.Record(ctx, event.Object); err != nil {
				h.logger.Error("webhooks record refund", slog.String("event", event.ID), slog.Any("error", err))
				return outcome{status: http.StatusInternalServerError, body: map[string]string{"error": "refund could not be recorded"}}
			}
			return outcome{status: http.StatusOK, body: map[string]bool{"received": true}}
		},
	}
	return h
}

// MountRoutes registers the payment webhook route.
func (h *StripeHandler) MountRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.handle)
}

func (h *StripeHandler) handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStripePayload))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}
	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhooks stripe verify", slog.Any("error", err))
		h.observe("", observability.OutcomeRejected)
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid signature")
		return
	}
	log := h.logger.With(slog.String("event", event.ID), slog.String("type", event.Type))

	run, ok := h.dispatch[event.Type]
	if !ok {
		log.Info("webhooks stripe event ignored")
		h.observe(event.Type, observability.OutcomeIgnored)
		httpx.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx := r.Context()
	if err := h.dedupe.CheckAndInsert(ctx, event.ID, StripeModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			log.Info("webhooks stripe duplicate event")
			h.observe(event.Type, observability.OutcomeDuplicate)
			httpx.JSON(w, http.StatusOK, map[string]bool{"duplicate": true})
			return
		}
		log.Error("webhooks stripe idempotency", slog.Any("error", err))
		h.observe(event.Type, observability.OutcomeFailed)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	res := run(ctx, event)
	if res.status >= http.StatusInternalServerError {
		// release the key so the vendor's retry runs the event again
		if err := h.dedupe.Delete(context.WithoutCancel(ctx), event.ID, StripeModule); err != nil {
			log.Error("webhooks stripe release key", slog.Any("error", err))
		}
		h.observe(event.Type, observability.OutcomeFailed)
	} else {
		h.observe(event.Type, observability.OutcomeProcessed)
	}
	httpx.JSON(w, res.status, res.body)
}

func (h *StripeHandler) observe(eventType, result string) {
	if h.observer != nil {
		h.observer.ObserveWebhook(SourceStripe, eventType, result)
	}
}

func (h *StripeHandler) observeStep(step string, ok bool) {
	if h.observer != nil {
		h.observer.ObserveOrderStep(step, ok)
	}
}

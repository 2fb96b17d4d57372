package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76/webhook"
)

// Event types the storefront reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventRefundCreated     = "refund.created"
)

// ErrSignature indicates a webhook whose signature did not verify.
var ErrSignature = errors.New("payments: invalid webhook signature")

// Event is a verified webhook event. Object holds the raw data.object payload.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// WebhookVerifier checks vendor webhook signatures.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier builds a verifier for the endpoint signing secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify validates the signature header and timestamp tolerance and returns the event.
// The event object is decoded by callers into explicit structs, so API version
// differences between the account and the SDK are tolerated.
func (v *WebhookVerifier) Verify(payload []byte, header string) (Event, error) {
	if header == "" {
		return Event{}, fmt.Errorf("%w: missing header", ErrSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data != nil {
		out.Object = evt.Data.Raw
	}
	return out, nil
}

package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thisshopissogay/shop/internal/payments"
)

type refundObject struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
	Reason        string `json:"reason"`
	Created       int64  `json:"created"`
}

// RefundRecorder persists refund notifications.
type RefundRecorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRefundRecorder constructs a RefundRecorder.
func NewRefundRecorder(repo Repository, logger *slog.Logger) *RefundRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundRecorder{repo: repo, logger: logger}
}

// Record stores the refund carried by raw. Repeated refund ids are ignored.
func (r *RefundRecorder) Record(ctx context.Context, raw json.RawMessage) error {
	refund, err := DecodeRefund(raw)
	if err != nil {
		return err
	}
	inserted, err := r.repo.InsertRefund(ctx, refund)
	if err != nil {
		return err
	}
	r.logger.Info("orders refund recorded",
		slog.String("refund", refund.ID),
		slog.String("payment_intent", refund.PaymentIntent),
		slog.String("amount", refund.Amount.String()),
		slog.Bool("new", inserted))
	return nil
}

// DecodeRefund parses a refund object.
func DecodeRefund(raw json.RawMessage) (Refund, error) {
	var obj refundObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Refund{}, fmt.Errorf("orders: decode refund: %w", err)
	}
	if obj.ID == "" || obj.Currency == "" {
		return Refund{}, fmt.Errorf("orders: refund missing id or currency")
	}
	amount, err := payments.FromMinorUnits(obj.Amount, obj.Currency)
	if err != nil {
		return Refund{}, err
	}
	created := time.Now().UTC()
	if obj.Created > 0 {
		created = time.Unix(obj.Created, 0).UTC()
	}
	return Refund{
		ID:            obj.ID,
		PaymentIntent: obj.PaymentIntent,
		Amount:        amount,
		Currency:      strings.ToUpper(obj.Currency),
		Reason:        obj.Reason,
		CreatedAt:     created,
	}, nil
}

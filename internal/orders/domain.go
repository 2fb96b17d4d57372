// Package orders records completed checkouts, fulfils them with the carrier and
// serves the merged local and carrier order view.
package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thisshopissogay/shop/internal/carrier"
)

// Order is a recorded purchase keyed by the checkout session id.
type Order struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone,omitempty"`
	AddressLine1 string          `json:"addressLine1"`
	AddressLine2 string          `json:"addressLine2,omitempty"`
	City         string          `json:"city"`
	PostalCode   string          `json:"postalCode"`
	Country      string          `json:"country"`
	TotalValue   decimal.Decimal `json:"totalValue"`
	PlacedAt     time.Time       `json:"placedAt"`
	Fulfilled    bool            `json:"fulfilled"`
	Products     []OrderProduct  `json:"products"`
}

// OrderProduct is one purchased line. Value is the line total.
type OrderProduct struct {
	OrderID    string          `json:"orderId,omitempty"`
	ProductSKU int64           `json:"product_sku"`
	Quantity   int             `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
}

// StockChange records a stock decrement. Oversold is the quantity sold beyond
// available stock, which the clamp at zero absorbed.
type StockChange struct {
	SKU      int64
	Before   int
	After    int
	Oversold int
}

// Refund is a vendor refund notification.
type Refund struct {
	ID            string          `json:"id"`
	PaymentIntent string          `json:"payment_intent"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
}

// View is a local order enriched with carrier data.
type View struct {
	Order
	Dispatched bool           `json:"dispatched"`
	Carrier    *carrier.Order `json:"carrier,omitempty"`
}

// StepResult reports the outcome of one completion sub-flow.
type StepResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CompletionResult is the webhook response body for a completed checkout.
type CompletionResult struct {
	Order     StepResult `json:"order"`
	Analytics StepResult `json:"analytics"`
}

var (
	// ErrAlreadyRecorded indicates the order row already exists.
	ErrAlreadyRecorded = errors.New("orders: already recorded")
	// ErrInvalidSession indicates a completed session missing required fields.
	ErrInvalidSession = errors.New("orders: invalid checkout session")
	// ErrNotFound indicates a missing order.
	ErrNotFound = errors.New("orders: not found")
)

// Package checkout creates payment sessions from re-priced baskets and serves
// localized price points.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thisshopissogay/shop/internal/basket"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/images"
	"github.com/thisshopissogay/shop/internal/payments"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// SessionGateway creates and reads vendor checkout sessions.
type SessionGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (payments.Session, error)
	GetCheckoutSession(ctx context.Context, id string) (payments.Session, error)
}

// BasketService re-prices baskets.
type BasketService interface {
	Reconcile(ctx context.Context, items []basket.Item) (basket.Reconciled, error)
	StockCheck(ctx context.Context, items []basket.Item) (map[string]basket.Discrepancy, error)
}

// StockError lists the lines that exceed current stock.
type StockError struct {
	Discrepancies map[string]basket.Discrepancy
}

func (e *StockError) Error() string {
	return fmt.Sprintf("checkout: %d basket lines exceed stock", len(e.Discrepancies))
}

// Is maps stock shortfalls onto the conflict sentinel.
func (e *StockError) Is(target error) bool {
	return target == httpx.ErrConflict
}

// CreateRequest is the checkout payload.
type CreateRequest struct {
	Items      []basket.Item `json:"items" validate:"required,min=1,max=100,dive"`
	GAClientID *string       `json:"gaClientId" validate:"omitempty,max=100"`
	Email      string        `json:"email" validate:"omitempty,email"`
}

// Created is returned after a session is opened.
type Created struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Config wires a Service.
type Config struct {
	Basket     BasketService
	Gateway    SessionGateway
	Rates      payments.RateSource
	Currency   string
	Currencies []string
	// ImageURL maps a derivative object name to a public URL.
	ImageURL func(name string) string
}

// Service runs the checkout flow.
type Service struct {
	cfg Config
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "GBP"
	}
	return &Service{cfg: cfg}
}

// Create re-prices the basket, rejects unknown products and stock shortfalls,
// then opens a vendor session priced in minor units.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Created, error) {
	reconciled, err := s.cfg.Basket.Reconcile(ctx, req.Items)
	if err != nil {
		return Created{}, err
	}
	if len(reconciled.Missing) > 0 {
		return Created{}, fmt.Errorf("%w: unknown or inactive products %v", httpx.ErrValidation, reconciled.Missing)
	}
	short, err := s.cfg.Basket.StockCheck(ctx, req.Items)
	if err != nil {
		return Created{}, err
	}
	if len(short) > 0 {
		return Created{}, &StockError{Discrepancies: short}
	}

	lines := make([]payments.CheckoutLine, 0, len(reconciled.Items))
	for _, item := range reconciled.Items {
		unit, err := payments.MinorUnits(item.Price, s.cfg.Currency)
		if err != nil {
			return Created{}, err
		}
		lines = append(lines, payments.CheckoutLine{
			SKU:        item.SKU,
			Name:       item.Name,
			UnitAmount: unit,
			Quantity:   int64(item.Quantity),
			ImageURL:   s.imageURL(item.Images),
		})
	}
	session, err := s.cfg.Gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Lines:      lines,
		GAClientID: req.GAClientID,
		Email:      req.Email,
	})
	if err != nil {
		return Created{}, err
	}
	return Created{ID: session.ID, URL: session.URL}, nil
}

// Get returns the status of a vendor session.
func (s *Service) Get(ctx context.Context, id string) (payments.Session, error) {
	if !strings.HasPrefix(id, "cs_") {
		return payments.Session{}, fmt.Errorf("%w: malformed session id", httpx.ErrValidation)
	}
	return s.cfg.Gateway.GetCheckoutSession(ctx, id)
}

// PricePoints returns the store price followed by its conversions.
func (s *Service) PricePoints(ctx context.Context, price decimal.Decimal) ([]payments.PricePoint, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", httpx.ErrValidation)
	}
	minor, err := payments.MinorUnits(price, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	display, err := payments.Format(price, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	base := payments.PricePoint{
		Currency:   strings.ToUpper(s.cfg.Currency),
		Amount:     price,
		MinorUnits: minor,
		Display:    display,
	}
	out := []payments.PricePoint{base}
	if s.cfg.Rates == nil || len(s.cfg.Currencies) == 0 {
		return out, nil
	}
	rates, err := s.cfg.Rates.CurrencyRates(ctx)
	if err != nil {
		return nil, err
	}
	points, err := payments.ComputePricePoints(price, rates, s.cfg.Currencies)
	if err != nil {
		return nil, err
	}
	return append(out, points...), nil
}

// imageURL prefers the representative image, then the first one.
func (s *Service) imageURL(imgs []catalog.Image) string {
	if s.cfg.ImageURL == nil || len(imgs) == 0 {
		return ""
	}
	pick := imgs[0]
	for _, img := range imgs {
		if img.Representative {
			pick = img
			break
		}
	}
	return s.cfg.ImageURL(images.DerivativeName(pick.Filename))
}

// AsStockError unwraps a StockError.
func AsStockError(err error) (*StockError, bool) {
	var se *StockError
	ok := errors.As(err, &se)
	return se, ok
}

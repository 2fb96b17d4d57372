package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/thisshopissogay/shop/internal/analytics"
	"github.com/thisshopissogay/shop/internal/carrier"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/payments"
)

// LineItemSource lists the purchased lines of a checkout session.
type LineItemSource interface {
	LineItems(ctx context.Context, sessionID string) ([]payments.LineItem, error)
}

// ProductSource returns catalog rows for weights and customs data.
type ProductSource interface {
	ProductsBySKU(ctx context.Context, skus []int64) ([]catalog.Product, error)
}

// CarrierClient creates shipping orders.
type CarrierClient interface {
	CreateOrder(ctx context.Context, order carrier.NewOrder) (carrier.CreatedOrder, error)
}

// PurchaseTracker sends purchase analytics.
type PurchaseTracker interface {
	TrackPurchase(ctx context.Context, clientID *string, p analytics.Purchase) error
}

// CompleterConfig wires a Completer.
type CompleterConfig struct {
	Repo     Repository
	Payments LineItemSource
	Products ProductSource
	Carrier  CarrierClient
	Tracker  PurchaseTracker
	// Production enables stock decrement and carrier order creation.
	Production bool
	Logger     *slog.Logger
	Now        func() time.Time
}

// Completer runs the checkout completion workflow.
type Completer struct {
	cfg    CompleterConfig
	logger *slog.Logger
}

// NewCompleter constructs a Completer.
func NewCompleter(cfg CompleterConfig) *Completer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Completer{cfg: cfg, logger: cfg.Logger}
}

// Complete records the order behind a completed checkout session and, independently,
// reports the purchase to analytics. An analytics failure never undoes the order.
func (c *Completer) Complete(ctx context.Context, raw json.RawMessage) CompletionResult {
	session, err := DecodeSession(raw)
	if err != nil {
		c.logger.Error("orders decode session", slog.Any("error", err))
		return CompletionResult{
			Order:     StepResult{Error: "invalid checkout session"},
			Analytics: StepResult{Error: "invalid checkout session"},
		}
	}
	log := c.logger.With(slog.String("session", session.ID))

	invalidErr := session.Validate()
	var items []payments.LineItem
	var itemsErr error
	if invalidErr == nil {
		items, itemsErr = c.cfg.Payments.LineItems(ctx, session.ID)
		if itemsErr != nil {
			log.Error("orders list line items", slog.Any("error", itemsErr))
		}
	}

	var result CompletionResult
	var g errgroup.Group
	g.Go(func() error {
		switch {
		case invalidErr != nil:
			log.Error("orders validate session", slog.Any("error", invalidErr))
			result.Order = StepResult{Error: orderFailureMessage(invalidErr)}
			return nil
		case itemsErr != nil:
			result.Order = StepResult{Error: "line items unavailable"}
			return nil
		}
		if err := c.recordOrder(ctx, log, session, items); err != nil {
			log.Error("orders record order", slog.Any("error", err))
			result.Order = StepResult{Error: orderFailureMessage(err)}
			return nil
		}
		result.Order = StepResult{OK: true}
		return nil
	})
	g.Go(func() error {
		if err := c.trackPurchase(ctx, session, items); err != nil {
			log.Warn("orders track purchase", slog.Any("error", err))
			result.Analytics = StepResult{Error: "analytics event not sent"}
			return nil
		}
		result.Analytics = StepResult{OK: true}
		return nil
	})
	_ = g.Wait()
	return result
}

func orderFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSession):
		return "checkout session missing required fields"
	case errors.Is(err, carrier.ErrRejected):
		return "carrier rejected order"
	default:
		return "order could not be recorded"
	}
}

func (c *Completer) recordOrder(ctx context.Context, log *slog.Logger, session CompletedSession, items []payments.LineItem) error {
	order, err := BuildOrder(session, items, c.cfg.Now())
	if err != nil {
		return err
	}

	existing := false
	changes, err := c.cfg.Repo.RecordOrder(ctx, order, c.cfg.Production)
	switch {
	case errors.Is(err, ErrAlreadyRecorded):
		log.Info("orders already recorded")
		existing = true
	case err != nil:
		return err
	}
	for _, ch := range changes {
		if ch.Oversold > 0 {
			log.Warn("orders stock oversold",
				slog.Int64("sku", ch.SKU), slog.Int("stock", ch.Before), slog.Int("oversold", ch.Oversold))
		}
	}

	if !c.cfg.Production || c.cfg.Carrier == nil {
		return nil
	}
	if existing {
		pending, err := c.cfg.Repo.CarrierPending(ctx, order.ID)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
	}
	return c.createCarrierOrder(ctx, log, session, order)
}

func (c *Completer) createCarrierOrder(ctx context.Context, log *slog.Logger, session CompletedSession, order Order) error {
	skus := make([]int64, 0, len(order.Products))
	for _, p := range order.Products {
		skus = append(skus, p.ProductSKU)
	}
	products, err := c.cfg.Products.ProductsBySKU(ctx, skus)
	if err != nil {
		return fmt.Errorf("orders: load products: %w", err)
	}
	newOrder, err := BuildCarrierOrder(order, session.Currency, products)
	if err != nil {
		return err
	}
	created, err := c.cfg.Carrier.CreateOrder(ctx, newOrder)
	if err != nil {
		return err
	}
	log.Info("orders carrier order created",
		slog.Int64("carrier_order", created.OrderIdentifier),
		slog.String("format", newOrder.Packages[0].PackageFormatIdentifier))
	return c.cfg.Repo.SetCarrierOrder(ctx, order.ID, created.OrderIdentifier)
}

func (c *Completer) trackPurchase(ctx context.Context, session CompletedSession, items []payments.LineItem) error {
	if c.cfg.Tracker == nil {
		return nil
	}
	return c.cfg.Tracker.TrackPurchase(ctx, session.GAClientID(), BuildPurchase(session, items))
}

// BuildOrder maps a validated session and its line items into an order.
func BuildOrder(session CompletedSession, items []payments.LineItem, now time.Time) (Order, error) {
	currency := sessionCurrency(session)
	total, err := payments.FromMinorUnits(*session.AmountTotal, currency)
	if err != nil {
		return Order{}, err
	}
	sh := session.Shipping()
	order := Order{
		ID:           session.ID,
		Name:         strings.TrimSpace(sh.Name),
		Email:        session.Email(),
		Phone:        session.Phone(),
		AddressLine1: sh.Address.Line1,
		AddressLine2: sh.Address.Line2,
		City:         sh.Address.City,
		PostalCode:   sh.Address.PostalCode,
		Country:      sh.Address.Country,
		TotalValue:   total,
		PlacedAt:     session.PlacedAt(now),
		Products:     make([]OrderProduct, 0, len(items)),
	}
	for _, it := range items {
		value, err := payments.FromMinorUnits(it.AmountTotal, currency)
		if err != nil {
			return Order{}, err
		}
		order.Products = append(order.Products, OrderProduct{
			OrderID:    session.ID,
			ProductSKU: it.SKU,
			Quantity:   int(it.Quantity),
			Value:      value,
		})
	}
	return order, nil
}

// BuildCarrierOrder derives the shipping order: one package whose weight is the
// sum of product weight times quantity.
func BuildCarrierOrder(order Order, currency string, products []catalog.Product) (carrier.NewOrder, error) {
	bySKU := make(map[int64]catalog.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}
	packageItems := make([]carrier.PackageItem, 0, len(order.Products))
	contents := make([]carrier.Content, 0, len(order.Products))
	for _, line := range order.Products {
		p, ok := bySKU[line.ProductSKU]
		if !ok {
			return carrier.NewOrder{}, fmt.Errorf("orders: product %d: %w", line.ProductSKU, ErrNotFound)
		}
		packageItems = append(packageItems, carrier.PackageItem{
			WeightGrams:    p.WeightGrams,
			Quantity:       line.Quantity,
			FormatOverride: p.PackageFormatOverride,
		})
		unitValue := decimal.Zero
		if line.Quantity > 0 {
			unitValue = line.Value.Div(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		}
		contents = append(contents, carrier.Content{
			Name:               p.Name,
			SKU:                strconv.FormatInt(p.SKU, 10),
			Quantity:           line.Quantity,
			UnitValue:          unitValue.InexactFloat64(),
			UnitWeightInGrams:  p.WeightGrams,
			CustomsDescription: p.CustomsDescription,
			CustomsCode:        p.CustomsCode,
			OriginCountryCode:  p.OriginCountry,
		})
	}
	subtotal := decimal.Zero
	for _, line := range order.Products {
		subtotal = subtotal.Add(line.Value)
	}
	return carrier.NewOrder{
		OrderReference: order.ID,
		Recipient: carrier.Recipient{
			Address: carrier.Address{
				FullName:     order.Name,
				AddressLine1: order.AddressLine1,
				AddressLine2: order.AddressLine2,
				City:         order.City,
				Postcode:     order.PostalCode,
				CountryCode:  order.Country,
			},
			PhoneNumber:  order.Phone,
			EmailAddress: order.Email,
		},
		OrderDate:           order.PlacedAt,
		Subtotal:            subtotal.InexactFloat64(),
		ShippingCostCharged: order.TotalValue.Sub(subtotal).InexactFloat64(),
		Total:               order.TotalValue.InexactFloat64(),
		CurrencyCode:        strings.ToUpper(currency),
		Packages: []carrier.Package{{
			WeightInGrams:           carrier.TotalWeight(packageItems),
			PackageFormatIdentifier: carrier.PackageFormat(packageItems),
			Contents:                contents,
		}},
	}, nil
}

// BuildPurchase maps the session into a purchase event. Items are omitted when
// the line items could not be fetched.
func BuildPurchase(session CompletedSession, items []payments.LineItem) analytics.Purchase {
	currency := sessionCurrency(session)
	p := analytics.Purchase{TransactionID: session.ID, Currency: currency, Items: []analytics.Item{}}
	if session.AmountTotal != nil {
		if total, err := payments.FromMinorUnits(*session.AmountTotal, currency); err == nil {
			p.Value = total.InexactFloat64()
		}
	}
	for _, it := range items {
		value, err := payments.FromMinorUnits(it.AmountTotal, currency)
		if err != nil || it.Quantity == 0 {
			continue
		}
		p.Items = append(p.Items, analytics.Item{
			ItemID:   strconv.FormatInt(it.SKU, 10),
			ItemName: it.Description,
			Price:    value.Div(decimal.NewFromInt(it.Quantity)).Round(2).InexactFloat64(),
			Quantity: int(it.Quantity),
		})
	}
	return p
}

func sessionCurrency(session CompletedSession) string {
	if session.Currency == "" {
		return "GBP"
	}
	return strings.ToUpper(session.Currency)
}

// Package payments wraps the payment vendor: checkout sessions, catalog sync,
// webhook verification and currency price points.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// SKUMetadataKey carries the catalog SKU on vendor products.
const SKUMetadataKey = "sku"

// GAClientMetadataKey carries the analytics client id on checkout sessions.
const GAClientMetadataKey = "ga_client_id"

// RateSource supplies currency conversion rates from the store currency.
type RateSource interface {
	CurrencyRates(ctx context.Context) (map[string]decimal.Decimal, error)
}

// GatewayConfig configures the Stripe gateway.
type GatewayConfig struct {
	SecretKey  string
	BaseURL    string
	Currency   string
	SuccessURL string
	CancelURL  string
	// AllowedCountries limits shipping address collection. Defaults to GB.
	AllowedCountries []string
	// PriceCurrencies lists currencies pushed as price currency_options.
	PriceCurrencies []string
	Rates           RateSource
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Gateway talks to Stripe.
type Gateway struct {
	api    *client.API
	cfg    GatewayConfig
	logger *slog.Logger
}

// NewGateway builds a Gateway with its own backend configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "GBP"
	}
	if len(cfg.AllowedCountries) == 0 {
		cfg.AllowedCountries = []string{"GB"}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	api := client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Gateway{api: api, cfg: cfg, logger: cfg.Logger}
}

// CheckoutLine is a reconciled basket line priced in minor units.
type CheckoutLine struct {
	SKU        int64
	Name       string
	UnitAmount int64
	Quantity   int64
	ImageURL   string
}

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	Lines      []CheckoutLine
	GAClientID *string
	Email      string
}

// Session is the subset of a checkout session the storefront exposes.
type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url,omitempty"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	AmountTotal   int64  `json:"amountTotal"`
	Currency      string `json:"currency"`
}

// LineItem is a purchased line with the SKU recovered from product metadata.
type LineItem struct {
	SKU         int64
	Description string
	Quantity    int64
	AmountTotal int64
	Currency    string
}

// CreateCheckoutSession creates a payment mode checkout session with inline prices.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	if len(req.Lines) == 0 {
		return Session{}, fmt.Errorf("%w: empty basket", httpx.ErrValidation)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(g.cfg.AllowedCountries),
		},
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{Enabled: stripe.Bool(true)},
	}
	params.Context = ctx
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.GAClientID != nil && *req.GAClientID != "" {
		params.AddMetadata(GAClientMetadataKey, *req.GAClientID)
	}
	currency := strings.ToLower(g.cfg.Currency)
	for _, line := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(line.Name),
			Metadata: map[string]string{SKUMetadataKey: strconv.FormatInt(line.SKU, 10)},
		}
		if line.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{line.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(line.UnitAmount),
				ProductData: product,
			},
		})
	}
	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, g.upstream("create checkout session", err)
	}
	return toSession(s), nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (g *Gateway) GetCheckoutSession(ctx context.Context, id string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return Session{}, fmt.Errorf("%w: checkout session %s", httpx.ErrNotFound, id)
		}
		return Session{}, g.upstream("get checkout session", err)
	}
	return toSession(s), nil
}

// LineItems lists every line item of a session with product metadata expanded.
func (g *Gateway) LineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.AddExpand("data.price.product")
	params.Limit = stripe.Int64(100)

	var out []LineItem
	iter := g.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		if li.Price == nil || li.Price.Product == nil {
			return nil, fmt.Errorf("payments: line item %s has no product", li.ID)
		}
		raw := li.Price.Product.Metadata[SKUMetadataKey]
		sku, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("payments: line item %s sku %q: %w", li.ID, raw, err)
		}
		out = append(out, LineItem{
			SKU:         sku,
			Description: li.Description,
			Quantity:    li.Quantity,
			AmountTotal: li.AmountTotal,
			Currency:    string(li.Currency),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, g.upstream("list line items", err)
	}
	return out, nil
}

// SyncProduct creates or updates the vendor product and attaches a fresh default
// price carrying localized currency options. The previous price is archived.
func (g *Gateway) SyncProduct(ctx context.Context, p catalog.Product) (catalog.ExternalRef, error) {
	productParams := &stripe.ProductParams{
		Name:     stripe.String(p.Name),
		Active:   stripe.Bool(p.Active),
		Metadata: map[string]string{SKUMetadataKey: strconv.FormatInt(p.SKU, 10)},
	}
	if p.Description != "" {
		productParams.Description = stripe.String(p.Description)
	}
	productParams.Context = ctx

	var (
		product *stripe.Product
		err     error
	)
	if p.StripeProductID != nil && *p.StripeProductID != "" {
		product, err = g.api.Products.Update(*p.StripeProductID, productParams)
	} else {
		product, err = g.api.Products.New(productParams)
	}
	if err != nil {
		return catalog.ExternalRef{}, g.upstream("sync product", err)
	}

	unitAmount, err := MinorUnits(p.Price, g.cfg.Currency)
	if err != nil {
		return catalog.ExternalRef{}, err
	}
	priceParams := &stripe.PriceParams{
		Product:    stripe.String(product.ID),
		Currency:   stripe.String(strings.ToLower(g.cfg.Currency)),
		UnitAmount: stripe.Int64(unitAmount),
	}
	priceParams.Context = ctx
	options, err := g.currencyOptions(ctx, p.Price)
	if err != nil {
		g.logger.Warn("payments currency options", slog.Int64("sku", p.SKU), slog.Any("error", err))
	}
	if len(options) > 0 {
		priceParams.CurrencyOptions = options
	}
	price, err := g.api.Prices.New(priceParams)
	if err != nil {
		return catalog.ExternalRef{}, g.upstream("create price", err)
	}

	defaultParams := &stripe.ProductParams{DefaultPrice: stripe.String(price.ID)}
	defaultParams.Context = ctx
	if _, err := g.api.Products.Update(product.ID, defaultParams); err != nil {
		return catalog.ExternalRef{}, g.upstream("set default price", err)
	}
	if p.StripePriceID != nil && *p.StripePriceID != "" && *p.StripePriceID != price.ID {
		archive := &stripe.PriceParams{Active: stripe.Bool(false)}
		archive.Context = ctx
		if _, err := g.api.Prices.Update(*p.StripePriceID, archive); err != nil {
			g.logger.Warn("payments archive price", slog.String("price", *p.StripePriceID), slog.Any("error", err))
		}
	}
	return catalog.ExternalRef{ProductID: product.ID, PriceID: price.ID}, nil
}

func (g *Gateway) currencyOptions(ctx context.Context, price decimal.Decimal) (map[string]*stripe.PriceCurrencyOptionsParams, error) {
	if g.cfg.Rates == nil || len(g.cfg.PriceCurrencies) == 0 {
		return nil, nil
	}
	rates, err := g.cfg.Rates.CurrencyRates(ctx)
	if err != nil {
		return nil, err
	}
	points, err := ComputePricePoints(price, rates, g.cfg.PriceCurrencies)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*stripe.PriceCurrencyOptionsParams, len(points))
	for _, pt := range points {
		out[strings.ToLower(pt.Currency)] = &stripe.PriceCurrencyOptionsParams{UnitAmount: stripe.Int64(pt.MinorUnits)}
	}
	return out, nil
}

func (g *Gateway) upstream(op string, err error) error {
	g.logger.Error("payments "+op, slog.Any("error", err))
	return fmt.Errorf("%w: payments: %s: %w", httpx.ErrUpstream, op, err)
}

func toSession(s *stripe.CheckoutSession) Session {
	out := Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      strings.ToUpper(string(s.Currency)),
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if out.CustomerEmail == "" {
		out.CustomerEmail = s.CustomerEmail
	}
	return out
}

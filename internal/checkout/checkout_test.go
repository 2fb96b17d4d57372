package checkout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisshopissogay/shop/internal/basket"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/payments"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

type stubProducts []catalog.Product

func (s stubProducts) ProductsBySKU(ctx context.Context, skus []int64) ([]catalog.Product, error) {
	return s, nil
}

type recordingGateway struct {
	requests []payments.CheckoutRequest
}

func (g *recordingGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (payments.Session, error) {
	g.requests = append(g.requests, req)
	return payments.Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (g *recordingGateway) GetCheckoutSession(ctx context.Context, id string) (payments.Session, error) {
	if id != "cs_test_1" {
		return payments.Session{}, httpx.ErrNotFound
	}
	return payments.Session{ID: id, Status: "complete", PaymentStatus: "paid", AmountTotal: 1250, Currency: "gbp"}, nil
}

type fixedRates map[string]decimal.Decimal

func (f fixedRates) CurrencyRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f, nil
}

func newFixture() (*Service, *recordingGateway) {
	products := stubProducts{
		{SKU: 1, Name: "Pin", Price: decimal.RequireFromString("4.50"), Stock: 10, Active: true,
			Images: []catalog.Image{{Filename: "pin-back.PNG"}, {Filename: "pin.JPG", Representative: true}}},
		{SKU: 2, Name: "Tote", Price: decimal.RequireFromString("11"), Stock: 1, Active: true},
		{SKU: 3, Name: "Old", Price: decimal.RequireFromString("1"), Stock: 5, Active: false},
	}
	gw := &recordingGateway{}
	svc := NewService(Config{
		Basket:     basket.NewService(products),
		Gateway:    gw,
		Rates:      fixedRates{"EUR": decimal.RequireFromString("1.17"), "JPY": decimal.RequireFromString("190")},
		Currency:   "GBP",
		Currencies: []string{"EUR", "JPY", "USD"},
		ImageURL:   func(name string) string { return "https://cdn.example/" + name },
	})
	return svc, gw
}

func TestCreateSessionUsesCatalogPrices(t *testing.T) {
	svc, gw := newFixture()
	client := "123.456"
	created, err := svc.Create(context.Background(), CreateRequest{
		Items:      []basket.Item{{SKU: 1, Quantity: 2}, {SKU: 2, Quantity: 1}},
		GAClientID: &client,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", created.ID)

	require.Len(t, gw.requests, 1)
	lines := gw.requests[0].Lines
	require.Len(t, lines, 2)
	assert.Equal(t, int64(450), lines[0].UnitAmount)
	assert.Equal(t, int64(2), lines[0].Quantity)
	assert.Equal(t, "https://cdn.example/pin.webp", lines[0].ImageURL)
	assert.Equal(t, int64(1100), lines[1].UnitAmount)
	assert.Empty(t, lines[1].ImageURL)
	assert.Equal(t, &client, gw.requests[0].GAClientID)
}

func TestCreateSessionRejectsShortStock(t *testing.T) {
	svc, gw := newFixture()
	_, err := svc.Create(context.Background(), CreateRequest{Items: []basket.Item{{SKU: 2, Quantity: 3}}})
	se, ok := AsStockError(err)
	require.True(t, ok)
	assert.Equal(t, basket.Discrepancy{Stock: 1, BasketQuantity: 3}, se.Discrepancies["2"])
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.Empty(t, gw.requests)
}

func TestCreateSessionRejectsInactiveProducts(t *testing.T) {
	svc, gw := newFixture()
	_, err := svc.Create(context.Background(), CreateRequest{Items: []basket.Item{{SKU: 3, Quantity: 1}}})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Empty(t, gw.requests)
}

func TestPricePoints(t *testing.T) {
	svc, _ := newFixture()
	points, err := svc.PricePoints(context.Background(), decimal.RequireFromString("10"))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "GBP", points[0].Currency)
	assert.Equal(t, int64(1000), points[0].MinorUnits)
	assert.Equal(t, "EUR", points[1].Currency)
	assert.True(t, points[1].Amount.Equal(decimal.RequireFromString("11.70")))
	assert.Equal(t, int64(1170), points[1].MinorUnits)
	assert.Equal(t, "JPY", points[2].Currency)
	assert.Equal(t, int64(1900), points[2].MinorUnits)

	_, err = svc.PricePoints(context.Background(), decimal.Zero)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestHandler(t *testing.T) {
	svc, gw := newFixture()
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(`{"items":[{"sku":1,"quantity":1}]}`))
	req.Header.Set("X-GA-Client-ID", "999.1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"cs_test_1","url":"https://checkout.example/cs_test_1"}`, rec.Body.String())
	require.NotNil(t, gw.requests[0].GAClientID)
	assert.Equal(t, "999.1", *gw.requests[0].GAClientID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(`{"items":[{"sku":2,"quantity":5}]}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		Discrepancies map[string]basket.Discrepancy `json:"discrepancies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, 5, conflict.Discrepancies["2"].BasketQuantity)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(`{"items":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/sessions/cs_test_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paymentStatus":"paid"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/sessions/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/price-points?price=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/price-points?price=12.50", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currency":"EUR"`)
}

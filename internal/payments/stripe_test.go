package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

type fakeStripe struct {
	mu    sync.Mutex
	forms map[string][]map[string][]string
}

func newFakeStripe(t *testing.T) (*fakeStripe, *httptest.Server) {
	t.Helper()
	f := &fakeStripe{forms: map[string][]map[string][]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, map[string]any{
			"id": "cs_test_1", "object": "checkout.session", "url": "https://checkout.test/cs_test_1",
			"status": "open", "payment_status": "unpaid", "amount_total": 2100, "currency": "gbp",
		})
	})
	mux.HandleFunc("/v1/checkout/sessions/cs_missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`))
	})
	mux.HandleFunc("/v1/checkout/sessions/cs_test_1/line_items", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, map[string]any{
			"object": "list", "has_more": false, "url": "/v1/checkout/sessions/cs_test_1/line_items",
			"data": []map[string]any{
				{"id": "li_1", "object": "item", "quantity": 2, "amount_total": 900, "currency": "gbp", "description": "Pin",
					"price": map[string]any{"id": "price_a", "object": "price",
						"product": map[string]any{"id": "prod_a", "object": "product", "metadata": map[string]string{"sku": "1"}}}},
				{"id": "li_2", "object": "item", "quantity": 1, "amount_total": 1200, "currency": "gbp", "description": "Tote",
					"price": map[string]any{"id": "price_b", "object": "price",
						"product": map[string]any{"id": "prod_b", "object": "product", "metadata": map[string]string{"sku": "2"}}}},
			},
		})
	})
	mux.HandleFunc("/v1/products", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, map[string]any{"id": "prod_new", "object": "product"})
	})
	mux.HandleFunc("/v1/products/prod_new", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, map[string]any{"id": "prod_new", "object": "product"})
	})
	mux.HandleFunc("/v1/prices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, map[string]any{"id": "price_new", "object": "price"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeStripe) record(r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms[r.URL.Path] = append(f.forms[r.URL.Path], r.Form)
}

func (f *fakeStripe) last(path string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.forms[path]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type staticRates map[string]decimal.Decimal

func (s staticRates) CurrencyRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s, nil
}

func newTestGateway(srv *httptest.Server) *Gateway {
	return NewGateway(GatewayConfig{
		SecretKey:       "sk_test_123",
		BaseURL:         srv.URL,
		Currency:        "GBP",
		SuccessURL:      "https://shop.test/success",
		CancelURL:       "https://shop.test/basket",
		PriceCurrencies: []string{"EUR"},
		Rates:           staticRates{"EUR": decimal.RequireFromString("1.20")},
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	fake, srv := newFakeStripe(t)
	gw := newTestGateway(srv)
	clientID := "111.222"

	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Lines:      []CheckoutLine{{SKU: 1, Name: "Pin", UnitAmount: 450, Quantity: 2}},
		GAClientID: &clientID,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.test/cs_test_1", session.URL)
	assert.Equal(t, "GBP", session.Currency)

	form := fake.last("/v1/checkout/sessions")
	require.NotNil(t, form)
	assert.Equal(t, []string{"payment"}, form["mode"])
	assert.Equal(t, []string{"450"}, form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"gbp"}, form["line_items[0][price_data][currency]"])
	assert.Equal(t, []string{"1"}, form["line_items[0][price_data][product_data][metadata][sku]"])
	assert.Equal(t, []string{"2"}, form["line_items[0][quantity]"])
	assert.Equal(t, []string{"111.222"}, form["metadata[ga_client_id]"])
	assert.Equal(t, []string{"GB"}, form["shipping_address_collection[allowed_countries][0]"])
}

func TestCreateCheckoutSessionRejectsEmptyBasket(t *testing.T) {
	_, srv := newFakeStripe(t)
	_, err := newTestGateway(srv).CreateCheckoutSession(context.Background(), CheckoutRequest{})
	assert.True(t, errors.Is(err, httpx.ErrValidation))
}

func TestGetCheckoutSessionNotFound(t *testing.T) {
	_, srv := newFakeStripe(t)
	_, err := newTestGateway(srv).GetCheckoutSession(context.Background(), "cs_missing")
	assert.True(t, errors.Is(err, httpx.ErrNotFound), "got %v", err)
}

func TestLineItemsReadsSKUMetadata(t *testing.T) {
	fake, srv := newFakeStripe(t)
	items, err := newTestGateway(srv).LineItems(context.Background(), "cs_test_1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, LineItem{SKU: 1, Description: "Pin", Quantity: 2, AmountTotal: 900, Currency: "gbp"}, items[0])
	assert.Equal(t, int64(2), items[1].SKU)

	form := fake.last("/v1/checkout/sessions/cs_test_1/line_items")
	assert.Equal(t, []string{"data.price.product"}, form["expand[0]"])
}

func TestSyncProductCreatesPriceWithCurrencyOptions(t *testing.T) {
	fake, srv := newFakeStripe(t)
	ref, err := newTestGateway(srv).SyncProduct(context.Background(), catalog.Product{
		SKU: 42, Name: "Mug", Price: decimal.RequireFromString("10.00"), Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ExternalRef{ProductID: "prod_new", PriceID: "price_new"}, ref)

	product := fake.last("/v1/products")
	assert.Equal(t, []string{"42"}, product["metadata[sku]"])

	price := fake.last("/v1/prices")
	assert.Equal(t, []string{"1000"}, price["unit_amount"])
	assert.Equal(t, []string{"prod_new"}, price["product"])
	assert.Equal(t, []string{"1200"}, price["currency_options[eur][unit_amount]"])

	update := fake.last("/v1/products/prod_new")
	assert.Equal(t, []string{"price_new"}, update["default_price"])
}

func TestWebhookVerifier(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})

	v := NewWebhookVerifier(secret)
	evt, err := v.Verify(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	assert.JSONEq(t, `{"id":"cs_test_1"}`, string(evt.Object))

	_, err = v.Verify(payload, "")
	assert.ErrorIs(t, err, ErrSignature)

	_, err = v.Verify(payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	assert.ErrorIs(t, err, ErrSignature)

	other := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	_, err = v.Verify(payload, other.Header)
	assert.ErrorIs(t, err, ErrSignature)
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisshopissogay/shop/internal/analytics"
	"github.com/thisshopissogay/shop/internal/carrier"
	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/payments"
)

// memoryRepo mimics transactional inserts: a failure leaves nothing behind.
type memoryRepo struct {
	mu              sync.Mutex
	orders          map[string]Order
	products        []OrderProduct
	carrierIDs      map[string]int64
	refunds         map[string]Refund
	failProducts    bool
	decrementCalls  int
	stock           map[int64]int
	earliest        *time.Time
	compressed      []Order
	fulfilledUpdate map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:          map[string]Order{},
		carrierIDs:      map[string]int64{},
		refunds:         map[string]Refund{},
		stock:           map[int64]int{},
		fulfilledUpdate: map[string]bool{},
	}
}

func (m *memoryRepo) RecordOrder(ctx context.Context, order Order, decrement bool) ([]StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return nil, ErrAlreadyRecorded
	}
	if m.failProducts {
		return nil, errors.New("insert order products: boom")
	}
	var changes []StockChange
	if decrement {
		m.decrementCalls++
		for _, p := range order.Products {
			ch := ApplyDecrement(p.ProductSKU, m.stock[p.ProductSKU], p.Quantity)
			m.stock[p.ProductSKU] = ch.After
			changes = append(changes, ch)
		}
	}
	m.orders[order.ID] = order
	m.products = append(m.products, order.Products...)
	return changes, nil
}

func (m *memoryRepo) CarrierPending(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, done := m.carrierIDs[orderID]
	return !done, nil
}

func (m *memoryRepo) SetCarrierOrder(ctx context.Context, orderID string, identifier int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carrierIDs[orderID] = identifier
	return nil
}

func (m *memoryRepo) CompressedOrders(ctx context.Context) ([]Order, error) { return m.compressed, nil }

func (m *memoryRepo) EarliestOpen(ctx context.Context) (*time.Time, error) { return m.earliest, nil }

func (m *memoryRepo) SetFulfilled(ctx context.Context, orderID string, fulfilled bool) error {
	if _, ok := m.orders[orderID]; !ok {
		return ErrNotFound
	}
	m.fulfilledUpdate[orderID] = fulfilled
	return nil
}

func (m *memoryRepo) InsertRefund(ctx context.Context, refund Refund) (bool, error) {
	if _, ok := m.refunds[refund.ID]; ok {
		return false, nil
	}
	m.refunds[refund.ID] = refund
	return true, nil
}

type stubLineItems struct {
	items []payments.LineItem
	err   error
}

func (s stubLineItems) LineItems(ctx context.Context, sessionID string) ([]payments.LineItem, error) {
	return s.items, s.err
}

type countingLineItems struct {
	calls int
}

func (c *countingLineItems) LineItems(ctx context.Context, sessionID string) ([]payments.LineItem, error) {
	c.calls++
	return lineItems(), nil
}

type stubProducts []catalog.Product

func (s stubProducts) ProductsBySKU(ctx context.Context, skus []int64) ([]catalog.Product, error) {
	return s, nil
}

type recordingCarrier struct {
	mu     sync.Mutex
	orders []carrier.NewOrder
	err    error
}

func (r *recordingCarrier) CreateOrder(ctx context.Context, order carrier.NewOrder) (carrier.CreatedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return carrier.CreatedOrder{}, r.err
	}
	r.orders = append(r.orders, order)
	return carrier.CreatedOrder{OrderIdentifier: int64(len(r.orders)), OrderReference: order.OrderReference}, nil
}

type recordingTracker struct {
	mu        sync.Mutex
	purchases []analytics.Purchase
	clientIDs []*string
	err       error
}

func (r *recordingTracker) TrackPurchase(ctx context.Context, clientID *string, p analytics.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases = append(r.purchases, p)
	r.clientIDs = append(r.clientIDs, clientID)
	return r.err
}

const completedSession = `{
	"id": "cs_test_a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0",
	"object": "checkout.session",
	"amount_total": 2450,
	"currency": "gbp",
	"created": 1714550400,
	"metadata": {"ga_client_id": "555.666"},
	"customer_details": {"email": "sam@example.com", "name": "Sam", "phone": "+447700900000"},
	"shipping_details": {
		"name": "Sam Smith",
		"address": {"line1": "1 High St", "line2": "", "city": "Leeds", "postal_code": "LS1 1AA", "country": "GB"}
	}
}`

func lineItems() []payments.LineItem {
	return []payments.LineItem{
		{SKU: 1, Description: "Pin", Quantity: 3, AmountTotal: 1350, Currency: "gbp"},
		{SKU: 2, Description: "Tote", Quantity: 1, AmountTotal: 1100, Currency: "gbp"},
	}
}

func catalogRows(pinWeight int) stubProducts {
	return stubProducts{
		{SKU: 1, Name: "Pin", WeightGrams: pinWeight, CustomsCode: "7117"},
		{SKU: 2, Name: "Tote", WeightGrams: 200},
	}
}

type fixture struct {
	repo    *memoryRepo
	carrier *recordingCarrier
	tracker *recordingTracker
	cfg     CompleterConfig
}

func newFixture(production bool) *fixture {
	f := &fixture{repo: newMemoryRepo(), carrier: &recordingCarrier{}, tracker: &recordingTracker{}}
	f.cfg = CompleterConfig{
		Repo:       f.repo,
		Payments:   stubLineItems{items: lineItems()},
		Products:   catalogRows(100),
		Carrier:    f.carrier,
		Tracker:    f.tracker,
		Production: production,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func (f *fixture) completer() *Completer { return NewCompleter(f.cfg) }

func TestCompleteRecordsOrderAndProducts(t *testing.T) {
	f := newFixture(false)
	result := f.completer().Complete(context.Background(), json.RawMessage(completedSession))

	assert.Equal(t, CompletionResult{Order: StepResult{OK: true}, Analytics: StepResult{OK: true}}, result)
	require.Len(t, f.repo.orders, 1)
	require.Len(t, f.repo.products, 2)

	order := f.repo.orders["cs_test_a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0"]
	assert.Equal(t, "Sam Smith", order.Name)
	assert.Equal(t, "sam@example.com", order.Email)
	assert.Equal(t, "LS1 1AA", order.PostalCode)
	assert.True(t, order.TotalValue.Equal(decimal.RequireFromString("24.50")))
	assert.True(t, f.repo.products[0].Value.Equal(decimal.RequireFromString("13.50")))
	assert.Equal(t, time.Unix(1714550400, 0).UTC(), order.PlacedAt)

	assert.Zero(t, f.repo.decrementCalls, "stock is untouched outside production")
	assert.Empty(t, f.carrier.orders, "no carrier order outside production")

	require.Len(t, f.tracker.purchases, 1)
	require.NotNil(t, f.tracker.clientIDs[0])
	assert.Equal(t, "555.666", *f.tracker.clientIDs[0])
	assert.Equal(t, 24.5, f.tracker.purchases[0].Value)
	assert.Equal(t, 4.5, f.tracker.purchases[0].Items[0].Price)
}

func TestCompleteProductionDecrementsStockAndCreatesCarrierOrder(t *testing.T) {
	f := newFixture(true)
	f.repo.stock[1] = 2
	f.repo.stock[2] = 10
	f.cfg.Products = catalogRows(800)

	result := f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	require.True(t, result.Order.OK, result.Order.Error)

	assert.Equal(t, 1, f.repo.decrementCalls)
	assert.Equal(t, 0, f.repo.stock[1], "stock is clamped at zero")
	assert.Equal(t, 9, f.repo.stock[2])

	require.Len(t, f.carrier.orders, 1)
	pkg := f.carrier.orders[0].Packages[0]
	assert.Equal(t, 2600, pkg.WeightInGrams)
	assert.Equal(t, carrier.FormatMediumParcel, pkg.PackageFormatIdentifier)
	assert.Equal(t, "GB", f.carrier.orders[0].Recipient.Address.CountryCode)
	assert.Equal(t, 4.5, pkg.Contents[0].UnitValue)
	assert.Contains(t, f.repo.carrierIDs, "cs_test_a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0")
}

func TestCompleteSmallParcelUnlessOverridden(t *testing.T) {
	f := newFixture(true)
	f.cfg.Payments = stubLineItems{items: []payments.LineItem{{SKU: 1, Quantity: 1, AmountTotal: 450}}}
	f.cfg.Products = stubProducts{{SKU: 1, Name: "Pin", WeightGrams: 800}}
	f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	require.Len(t, f.carrier.orders, 1)
	assert.Equal(t, carrier.FormatSmallParcel, f.carrier.orders[0].Packages[0].PackageFormatIdentifier)

	medium := carrier.FormatMediumParcel
	f = newFixture(true)
	f.cfg.Payments = stubLineItems{items: []payments.LineItem{{SKU: 1, Quantity: 1, AmountTotal: 450}}}
	f.cfg.Products = stubProducts{{SKU: 1, Name: "Poster tube", WeightGrams: 800, PackageFormatOverride: &medium}}
	f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	require.Len(t, f.carrier.orders, 1)
	assert.Equal(t, carrier.FormatMediumParcel, f.carrier.orders[0].Packages[0].PackageFormatIdentifier)
}

func TestCompleteMissingShippingWritesNothing(t *testing.T) {
	f := newFixture(true)
	raw := `{"id":"cs_1","amount_total":100,"currency":"gbp","customer_details":{"email":"a@b.c"}}`

	result := f.completer().Complete(context.Background(), json.RawMessage(raw))
	assert.False(t, result.Order.OK)
	assert.NotEmpty(t, result.Order.Error)
	assert.True(t, result.Analytics.OK, "analytics runs independently")
	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.repo.products)
	assert.Empty(t, f.carrier.orders)
}

func TestCompleteProductInsertFailureLeavesNoRows(t *testing.T) {
	f := newFixture(false)
	f.repo.failProducts = true

	result := f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	assert.False(t, result.Order.OK)
	assert.Equal(t, "order could not be recorded", result.Order.Error)
	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.repo.products)
}

func TestCompleteAnalyticsFailureKeepsOrder(t *testing.T) {
	f := newFixture(false)
	f.tracker.err = errors.New("collector down")

	result := f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	assert.True(t, result.Order.OK)
	assert.False(t, result.Analytics.OK)
	assert.Len(t, f.repo.orders, 1)
}

func TestCompleteWithoutClientIDSendsNil(t *testing.T) {
	f := newFixture(false)
	var session map[string]any
	require.NoError(t, json.Unmarshal([]byte(completedSession), &session))
	delete(session, "metadata")
	raw, err := json.Marshal(session)
	require.NoError(t, err)

	f.completer().Complete(context.Background(), raw)
	require.Len(t, f.tracker.clientIDs, 1)
	assert.Nil(t, f.tracker.clientIDs[0])
}

func TestCompleteReplayDoesNotDuplicate(t *testing.T) {
	f := newFixture(true)
	c := f.completer()

	first := c.Complete(context.Background(), json.RawMessage(completedSession))
	second := c.Complete(context.Background(), json.RawMessage(completedSession))
	assert.True(t, first.Order.OK)
	assert.True(t, second.Order.OK)
	assert.Len(t, f.repo.orders, 1)
	assert.Len(t, f.repo.products, 2)
	assert.Equal(t, 1, f.repo.decrementCalls)
	assert.Len(t, f.carrier.orders, 1)
}

func TestCompleteRetriesPendingCarrierOrder(t *testing.T) {
	f := newFixture(true)
	f.carrier.err = carrier.ErrRejected
	c := f.completer()

	first := c.Complete(context.Background(), json.RawMessage(completedSession))
	assert.False(t, first.Order.OK)
	assert.Equal(t, "carrier rejected order", first.Order.Error)
	assert.Len(t, f.repo.orders, 1, "order row survives a carrier failure")

	f.carrier.err = nil
	second := c.Complete(context.Background(), json.RawMessage(completedSession))
	assert.True(t, second.Order.OK)
	assert.Len(t, f.carrier.orders, 1)
	assert.Equal(t, 1, f.repo.decrementCalls)
}

func TestCompleteLineItemFailure(t *testing.T) {
	f := newFixture(false)
	f.cfg.Payments = stubLineItems{err: errors.New("stripe down")}

	result := f.completer().Complete(context.Background(), json.RawMessage(completedSession))
	assert.False(t, result.Order.OK)
	assert.True(t, result.Analytics.OK)
	assert.Empty(t, f.repo.orders)
	require.Len(t, f.tracker.purchases, 1)
	assert.Empty(t, f.tracker.purchases[0].Items)
}

func TestCompleteMissingSessionIDSkipsLineItems(t *testing.T) {
	f := newFixture(false)
	items := &countingLineItems{}
	f.cfg.Payments = items
	raw := strings.Replace(completedSession, `"id": "cs_test_a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7r8s9t0"`, `"id": ""`, 1)
	require.NotEqual(t, completedSession, raw)

	result := f.completer().Complete(context.Background(), json.RawMessage(raw))
	assert.False(t, result.Order.OK)
	assert.Equal(t, "checkout session missing required fields", result.Order.Error)
	assert.Zero(t, items.calls, "line items are not fetched for an invalid session")
	assert.Empty(t, f.repo.orders)
}

func TestCompleteMalformedJSON(t *testing.T) {
	f := newFixture(false)
	result := f.completer().Complete(context.Background(), json.RawMessage(`{"id":`))
	assert.False(t, result.Order.OK)
	assert.False(t, result.Analytics.OK)
}

func TestApplyDecrement(t *testing.T) {
	assert.Equal(t, StockChange{SKU: 1, Before: 5, After: 2}, ApplyDecrement(1, 5, 3))
	assert.Equal(t, StockChange{SKU: 1, Before: 5, After: 0, Oversold: 2}, ApplyDecrement(1, 5, 7))
}

func TestDecodeRefund(t *testing.T) {
	refund, err := DecodeRefund(json.RawMessage(`{"id":"re_1","amount":1250,"currency":"gbp","payment_intent":"pi_1","reason":"requested_by_customer","created":1714550400}`))
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ID)
	assert.Equal(t, "GBP", refund.Currency)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("12.50")))

	_, err = DecodeRefund(json.RawMessage(`{"amount":1}`))
	assert.Error(t, err)
}

func TestRefundRecorderIgnoresDuplicates(t *testing.T) {
	repo := newMemoryRepo()
	rec := NewRefundRecorder(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	raw := json.RawMessage(`{"id":"re_1","amount":100,"currency":"gbp"}`)
	require.NoError(t, rec.Record(context.Background(), raw))
	require.NoError(t, rec.Record(context.Background(), raw))
	assert.Len(t, repo.refunds, 1)
}

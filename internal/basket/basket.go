// Package basket re-prices client baskets against the catalog and reports stock shortfalls.
package basket

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/thisshopissogay/shop/internal/catalog"
)

// Item is one client basket line.
type Item struct {
	SKU      int64 `json:"sku" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required,gt=0,lte=100"`
}

// Line is a basket line re-priced from authoritative catalog data.
type Line struct {
	SKU         int64           `json:"sku"`
	Quantity    int             `json:"quantity"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	WeightGrams int             `json:"weight"`
	Images      []catalog.Image `json:"images"`
	Product     catalog.Product `json:"-"`
}

// Total is the line total in store currency.
func (l Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Reconciled is the server view of a basket.
type Reconciled struct {
	Items   []Line          `json:"items"`
	Missing []int64         `json:"missing"`
	Total   decimal.Decimal `json:"total"`
}

// Discrepancy reports a line whose quantity exceeds stock.
type Discrepancy struct {
	Stock          int `json:"stock"`
	BasketQuantity int `json:"basketQuantity"`
}

// ProductSource returns authoritative product rows.
type ProductSource interface {
	ProductsBySKU(ctx context.Context, skus []int64) ([]catalog.Product, error)
}

// Service reconciles baskets.
type Service struct {
	products ProductSource
}

// NewService constructs a basket Service.
func NewService(products ProductSource) *Service {
	return &Service{products: products}
}

// Reconcile overwrites client prices and images with catalog values, matched by SKU.
// Lines for unknown or inactive products are dropped and listed in Missing. Repeated
// SKUs are merged.
func (s *Service) Reconcile(ctx context.Context, items []Item) (Reconciled, error) {
	merged, order := mergeItems(items)
	products, err := s.lookup(ctx, order)
	if err != nil {
		return Reconciled{}, err
	}
	out := Reconciled{Items: []Line{}, Missing: []int64{}, Total: decimal.Zero}
	for _, sku := range order {
		p, ok := products[sku]
		if !ok || !p.Active {
			out.Missing = append(out.Missing, sku)
			continue
		}
		line := Line{
			SKU:         sku,
			Quantity:    merged[sku],
			Name:        p.Name,
			Price:       p.Price,
			Stock:       p.Stock,
			WeightGrams: p.WeightGrams,
			Images:      p.Images,
			Product:     p,
		}
		out.Items = append(out.Items, line)
		out.Total = out.Total.Add(line.Total())
	}
	return out, nil
}

// StockCheck returns a discrepancy for every SKU whose requested quantity exceeds
// current stock. Unknown SKUs report zero stock.
func (s *Service) StockCheck(ctx context.Context, items []Item) (map[string]Discrepancy, error) {
	merged, order := mergeItems(items)
	products, err := s.lookup(ctx, order)
	if err != nil {
		return nil, err
	}
	out := map[string]Discrepancy{}
	for _, sku := range order {
		stock := products[sku].Stock
		if merged[sku] > stock {
			out[strconv.FormatInt(sku, 10)] = Discrepancy{Stock: stock, BasketQuantity: merged[sku]}
		}
	}
	return out, nil
}

func (s *Service) lookup(ctx context.Context, skus []int64) (map[int64]catalog.Product, error) {
	rows, err := s.products.ProductsBySKU(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("basket: load products: %w", err)
	}
	out := make(map[int64]catalog.Product, len(rows))
	for _, p := range rows {
		out[p.SKU] = p
	}
	return out, nil
}

func mergeItems(items []Item) (map[int64]int, []int64) {
	merged := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, it := range items {
		if _, seen := merged[it.SKU]; !seen {
			order = append(order, it.SKU)
		}
		merged[it.SKU] += it.Quantity
	}
	return merged, order
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thisshopissogay/shop/internal/platform/db"
)

// Repository abstracts order persistence.
type Repository interface {
	// RecordOrder inserts the order and its products in one transaction. When
	// decrement is set the same transaction locks and decrements product stock.
	RecordOrder(ctx context.Context, order Order, decrement bool) ([]StockChange, error)
	CarrierPending(ctx context.Context, orderID string) (bool, error)
	SetCarrierOrder(ctx context.Context, orderID string, identifier int64) error
	CompressedOrders(ctx context.Context) ([]Order, error)
	EarliestOpen(ctx context.Context) (*time.Time, error)
	SetFulfilled(ctx context.Context, orderID string, fulfilled bool) error
	InsertRefund(ctx context.Context, refund Refund) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) RecordOrder(ctx context.Context, order Order, decrement bool) ([]StockChange, error) {
	var changes []StockChange
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders
			(id, name, email, phone, address_line1, address_line2, city, postal_code, country, total_value, placed_at, fulfilled)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11, false)`,
			order.ID, order.Name, order.Email, order.Phone, order.AddressLine1, order.AddressLine2,
			order.City, order.PostalCode, order.Country, order.TotalValue, order.PlacedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrAlreadyRecorded
			}
			return fmt.Errorf("orders: insert order: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range order.Products {
			batch.Queue(`INSERT INTO order_products (order_id, product_sku, quantity, value) VALUES ($1, $2, $3, $4)`,
				order.ID, p.ProductSKU, p.Quantity, p.Value)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("orders: insert order products: %w", err)
			}
		}
		if !decrement {
			return nil
		}
		changes, err = decrementStock(ctx, tx, order.Products)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// decrementStock locks every affected product row in SKU order, then writes the
// decremented stock clamped at zero.
func decrementStock(ctx context.Context, tx pgx.Tx, products []OrderProduct) ([]StockChange, error) {
	want := map[int64]int{}
	skus := make([]int64, 0, len(products))
	for _, p := range products {
		if _, ok := want[p.ProductSKU]; !ok {
			skus = append(skus, p.ProductSKU)
		}
		want[p.ProductSKU] += p.Quantity
	}
	rows, err := tx.Query(ctx, `SELECT sku, stock FROM products WHERE sku = ANY($1) ORDER BY sku FOR UPDATE`, skus)
	if err != nil {
		return nil, fmt.Errorf("orders: lock stock: %w", err)
	}
	current := map[int64]int{}
	for rows.Next() {
		var sku int64
		var stock int
		if err := rows.Scan(&sku, &stock); err != nil {
			rows.Close()
			return nil, fmt.Errorf("orders: scan stock: %w", err)
		}
		current[sku] = stock
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: read stock: %w", err)
	}

	changes := make([]StockChange, 0, len(skus))
	for _, sku := range skus {
		before, ok := current[sku]
		if !ok {
			return nil, fmt.Errorf("orders: product %d: %w", sku, ErrNotFound)
		}
		change := ApplyDecrement(sku, before, want[sku])
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = $1 WHERE sku = $2`, change.After, sku); err != nil {
			return nil, fmt.Errorf("orders: update stock %d: %w", sku, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// ApplyDecrement computes the stock after selling qty, clamped at zero.
func ApplyDecrement(sku int64, stock, qty int) StockChange {
	after := stock - qty
	oversold := 0
	if after < 0 {
		oversold = -after
		after = 0
	}
	return StockChange{SKU: sku, Before: stock, After: after, Oversold: oversold}
}

func (r *repository) CarrierPending(ctx context.Context, orderID string) (bool, error) {
	var pending bool
	err := r.pool.QueryRow(ctx, `SELECT carrier_order_identifier IS NULL FROM orders WHERE id = $1`, orderID).Scan(&pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("orders: carrier pending: %w", err)
	}
	return pending, nil
}

func (r *repository) SetCarrierOrder(ctx context.Context, orderID string, identifier int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE orders SET carrier_order_identifier = $1 WHERE id = $2`, identifier, orderID)
	if err != nil {
		return fmt.Errorf("orders: set carrier order: %w", err)
	}
	return nil
}

func (r *repository) CompressedOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, COALESCE(phone, ''), address_line1, COALESCE(address_line2, ''),
		city, postal_code, country, total_value, placed_at, fulfilled, COALESCE(products, '[]'::json)
		FROM orders_compressed ORDER BY placed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("orders: query compressed: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		var (
			o        Order
			products []byte
		)
		if err := row.Scan(&o.ID, &o.Name, &o.Email, &o.Phone, &o.AddressLine1, &o.AddressLine2,
			&o.City, &o.PostalCode, &o.Country, &o.TotalValue, &o.PlacedAt, &o.Fulfilled, &products); err != nil {
			return Order{}, err
		}
		if err := json.Unmarshal(products, &o.Products); err != nil {
			return Order{}, fmt.Errorf("orders: decode products of %s: %w", o.ID, err)
		}
		return o, nil
	})
}

func (r *repository) EarliestOpen(ctx context.Context) (*time.Time, error) {
	var open, first *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MIN(placed_at) FILTER (WHERE NOT fulfilled), MIN(placed_at) FROM orders`).Scan(&open, &first)
	if err != nil {
		return nil, fmt.Errorf("orders: earliest open: %w", err)
	}
	if open != nil {
		return open, nil
	}
	return first, nil
}

func (r *repository) SetFulfilled(ctx context.Context, orderID string, fulfilled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET fulfilled = $1 WHERE id = $2`, fulfilled, orderID)
	if err != nil {
		return fmt.Errorf("orders: set fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) InsertRefund(ctx context.Context, refund Refund) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO order_refunds (id, payment_intent, amount, currency, reason, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6) ON CONFLICT (id) DO NOTHING`,
		refund.ID, refund.PaymentIntent, refund.Amount, refund.Currency, refund.Reason, refund.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("orders: insert refund: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

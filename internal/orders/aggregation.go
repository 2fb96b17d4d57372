package orders

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thisshopissogay/shop/internal/carrier"
)

// CarrierLister lists carrier orders in a time window.
type CarrierLister interface {
	ListOrders(ctx context.Context, from, to time.Time) ([]carrier.Order, error)
}

// Aggregator merges local orders with carrier state.
type Aggregator struct {
	repo    Repository
	carrier CarrierLister
	now     func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(repo Repository, lister CarrierLister) *Aggregator {
	return &Aggregator{repo: repo, carrier: lister, now: time.Now}
}

// List returns every local order with its carrier data. The carrier window starts
// at the earliest unfulfilled order, or the earliest order when all are fulfilled.
func (a *Aggregator) List(ctx context.Context) ([]View, error) {
	now := a.now()
	from, err := a.repo.EarliestOpen(ctx)
	if err != nil {
		return nil, err
	}
	lower := now
	if from != nil {
		lower = *from
	}

	var (
		local  []Order
		remote []carrier.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = a.repo.CompressedOrders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = a.carrier.ListOrders(gctx, lower, now)
		if err != nil {
			return fmt.Errorf("orders: carrier orders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(local, remote), nil
}

// Merge attaches carrier orders to local orders by reference. A carrier order
// holding the full id wins over one holding the truncated id. Among several
// candidates with the same reference, the one whose order date is closest to
// the local placement time wins, then the first in carrier order.
func Merge(local []Order, remote []carrier.Order) []View {
	byRef := make(map[string][]int, len(remote))
	for i, r := range remote {
		byRef[r.OrderReference] = append(byRef[r.OrderReference], i)
	}
	out := make([]View, 0, len(local))
	for _, o := range local {
		if o.Products == nil {
			o.Products = []OrderProduct{}
		}
		view := View{Order: o}
		candidates := byRef[o.ID]
		if ref := carrier.TruncateReference(o.ID); len(candidates) == 0 && ref != o.ID {
			candidates = byRef[ref]
		}
		if len(candidates) > 0 {
			match := remote[closestCandidate(remote, candidates, o.PlacedAt)]
			view.Carrier = &match
			view.Dispatched = match.ShippedOn != nil
		}
		out = append(out, view)
	}
	return out
}

func closestCandidate(remote []carrier.Order, candidates []int, placed time.Time) int {
	pick := candidates[0]
	best := time.Duration(-1)
	for _, idx := range candidates {
		date := remote[idx].OrderDate
		if date == nil {
			continue
		}
		d := date.Sub(placed)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			pick, best = idx, d
		}
	}
	return pick
}

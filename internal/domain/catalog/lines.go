// Package catalog reads live item prices, tax rates and stock, and turns cart
// item references into priced cart lines.
package catalog

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const (
	batchSize   = 100
	maxInFlight = 4
)

// Item references a product and a quantity, as stored in a cart.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineBuilder resolves cart items into priced lines.
type LineBuilder struct {
	products Repository
}

// NewLineBuilder returns a LineBuilder backed by the given repository.
func NewLineBuilder(products Repository) *LineBuilder {
	return &LineBuilder{products: products}
}

// Lines fetches the products referenced by items and returns one line per
// item, in item order. Large carts are fetched in concurrent batches.
// Quantities are checked here; stock is not, so callers can tell an
// out-of-stock line from a missing product.
func (b *LineBuilder) Lines(ctx context.Context, items []Item) ([]pricing.CartLine, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	byID, err := b.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.CartLine, len(items))
	for i, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		lines[i] = pricing.CartLine{
			ItemID:         p.ID,
			Name:           p.Name,
			UnitPrice:      p.Price,
			MRP:            p.MRP,
			Quantity:       item.Quantity,
			CGSTRate:       p.CGSTRate,
			SGSTRate:       p.SGSTRate,
			IsTaxable:      p.IsTaxable,
			AvailableStock: p.Stock,
		}
	}
	return lines, nil
}

func (b *LineBuilder) fetch(ctx context.Context, ids []string) (map[string]Product, error) {
	var (
		mu   sync.Mutex
		byID = make(map[string]Product, len(ids))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for start := 0; start < len(ids); start += batchSize {
		batch := ids[start:min(start+batchSize, len(ids))]
		g.Go(func() error {
			products, err := b.products.GetByIDs(ctx, batch)
			if err != nil {
				return errors.Wrap(err, "get products")
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range products {
				byID[p.ID] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return byID, nil
}

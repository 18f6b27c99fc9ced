// Package cart is the boundary to the customer's persisted cart.
package cart

import (
	"context"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Repository reads and clears a user's cart.
type Repository interface {
	Items(ctx context.Context, userID string) ([]catalog.Item, error)
	Clear(ctx context.Context, userID string) error
}

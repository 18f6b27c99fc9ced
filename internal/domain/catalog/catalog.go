package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the live catalog state of an item: price, tax and stock.
type Product struct {
	ID        string
	Name      string
	Category  string
	Price     decimal.Decimal
	MRP       decimal.Decimal
	CGSTRate  decimal.Decimal
	SGSTRate  decimal.Decimal
	IsTaxable bool
	// Stock is pricing.UnboundedStock for items without a stock cap.
	Stock int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

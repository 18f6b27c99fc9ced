package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrSignatureMismatch is returned when a payment proof is not signed by
	// the gateway.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrAmountMismatch is returned when the paid amount differs from the
	// server-side total.
	ErrAmountMismatch = errors.New("paid amount does not match order total")
	// ErrAttemptAlreadyPaid is returned when an attempt already has an order
	// settled by a different payment.
	ErrAttemptAlreadyPaid = errors.New("checkout attempt already has an order")
	// ErrPaymentReused is returned when a payment id already settled an order
	// for a different attempt.
	ErrPaymentReused = errors.New("payment already settled another attempt")
)

// Status of a persisted order.
type Status string

const (
	// StatusPlaced is an unpaid cash order.
	StatusPlaced Status = "placed"
	// StatusConfirmed is a paid order.
	StatusConfirmed Status = "confirmed"
)

// Order is the canonical record of a settled checkout. It is written once
// and never modified by this service.
type Order struct {
	ID             string
	UserID         string
	AttemptID      string
	Items          []Item
	Fulfillment    fulfillment.Policy
	Address        *fulfillment.Address
	Pickup         *fulfillment.PickupLocation
	Slot           *slot.Selection
	PaymentMethod  string
	PaymentID      string
	GatewayOrderID string
	PromoCode      string
	Totals         pricing.Totals
	Status         Status
	IsPaid         bool
	Note           string
	CreatedAt      time.Time
}

// Item is an order line with its share of the discount and taxes.
type Item struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	TaxableValue decimal.Decimal `json:"taxable_value"`
	CGST         decimal.Decimal `json:"cgst"`
	SGST         decimal.Decimal `json:"sgst"`
}

// Proof is what the gateway hands back after a successful payment.
type Proof struct {
	GatewayOrderID   string
	PaymentID        string
	Signature        string
	AmountMinorUnits int64
}

// OutOfStockError is returned when an item no longer has enough stock.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// PriceChangedError is returned when repricing an attempt gives different
// totals than the customer saw.
type PriceChangedError struct {
	Expected pricing.Totals
	Actual   pricing.Totals
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("order total changed from %s to %s",
		e.Expected.GrandTotal.StringFixed(2), e.Actual.GrandTotal.StringFixed(2))
}

var errNoSlot = errors.New("no slot selected")

// SlotUnavailableError is returned when the booked slot can no longer be
// served, usually because its window started while the attempt was open.
type SlotUnavailableError struct {
	Slot slot.Selection
	Err  error
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %q unavailable: %v", e.Slot.String(), e.Err)
}

func (e *SlotUnavailableError) Unwrap() error { return e.Err }

// Repository defines persistence operations for orders.
type Repository interface {
	// Create writes the order, decrements stock and counts promo usage in one
	// transaction. When an order with the same payment id or attempt id
	// exists, Create returns it with created == false and writes nothing.
	Create(ctx context.Context, o *Order) (_ *Order, created bool, _ error)
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	GetByAttemptID(ctx context.Context, attemptID string) (*Order, error)
}

// SignatureVerifier checks a gateway payment signature.
type SignatureVerifier interface {
	Verify(gatewayOrderID, paymentID, signature string) bool
}

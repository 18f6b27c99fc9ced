package payment

import (
	"context"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// GatewayOrderRequest asks the gateway to open a transaction.
type GatewayOrderRequest struct {
	AmountMinorUnits int64
	Currency         string
	// Receipt is our reference, the attempt id.
	Receipt string
	Notes   map[string]string
}

// GatewayTransaction is the gateway's view of an opened transaction. The
// amount and currency are echoed back by the gateway and checked.
type GatewayTransaction struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	// KeyID is the public key the client uses to open the gateway UI.
	KeyID string `json:"key_id,omitempty"`
}

// Gateway creates payment transactions.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayTransaction, error)
}

// OrderStore is the authoritative order writer.
type OrderStore interface {
	CreateCash(ctx context.Context, a checkout.Attempt) (*order.Order, bool, error)
	VerifyAndCreate(ctx context.Context, proof order.Proof, a checkout.Attempt) (*order.Order, bool, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*order.Order, error)
}

var _ OrderStore = (*order.Service)(nil)

// SlotValidator checks a booked slot against the clock.
type SlotValidator interface {
	Validate(sel slot.Selection, now time.Time) error
}

var _ SlotValidator = (*slot.Scheduler)(nil)

// Preflight re-checks an attempt against the inputs it was assembled from.
type Preflight interface {
	Check(ctx context.Context, a checkout.Attempt) error
}

var _ Preflight = (*checkout.Service)(nil)

// CartClearer empties a user's cart after checkout.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// EventType names a reconciliation event.
type EventType string

const (
	EventOrderSettled       EventType = "order.settled"
	EventPaymentFailed      EventType = "payment.failed"
	EventVerificationFailed EventType = "payment.verification_failed"
	EventPaymentUnconfirmed EventType = "payment.unconfirmed"
)

// Event is published for every settlement and for every failure that needs
// reconciliation.
type Event struct {
	Type             EventType
	AttemptID        string
	UserID           string
	OrderID          string
	GatewayOrderID   string
	PaymentID        string
	AmountMinorUnits int64
	Currency         string
	Reason           string
	OccurredAt       time.Time
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

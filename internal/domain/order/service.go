package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// Service is the authoritative order writer. It never trusts totals computed
// elsewhere: every order is repriced against the live catalog first.
type Service struct {
	lines    checkout.LineSource
	engine   *pricing.Engine
	slots    *slot.Scheduler
	verifier SignatureVerifier
	orders   Repository

	now   func() time.Time
	newID func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	lines checkout.LineSource,
	engine *pricing.Engine,
	slots *slot.Scheduler,
	verifier SignatureVerifier,
	orders Repository,
) *Service {
	return &Service{
		lines:    lines,
		engine:   engine,
		slots:    slots,
		verifier: verifier,
		orders:   orders,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateCash persists an order that is paid on delivery, or an online order
// whose total is zero. Calling it again for the same attempt returns the
// existing order.
func (s *Service) CreateCash(ctx context.Context, a checkout.Attempt) (*Order, bool, error) {
	existing, err := s.orders.GetByAttemptID(ctx, a.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("get order by attempt: %w", err)
	}

	lines, bd, err := s.reprice(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if !bd.Totals.Equal(a.Totals) {
		return nil, false, &PriceChangedError{Expected: a.Totals, Actual: bd.Totals}
	}

	o := s.build(a, lines, bd)
	if a.Method == checkout.PaymentOnline {
		o.Status = StatusConfirmed
		o.IsPaid = true
	}

	return s.create(ctx, o)
}

// VerifyAndCreate persists an order for a gateway payment. It checks, in
// order: the signature, an existing order for the payment, the booked slot,
// the repriced amount and stock. The bool reports whether this call created the order.
func (s *Service) VerifyAndCreate(ctx context.Context, proof Proof, a checkout.Attempt) (*Order, bool, error) {
	if !s.verifier.Verify(proof.GatewayOrderID, proof.PaymentID, proof.Signature) {
		return nil, false, ErrSignatureMismatch
	}

	existing, err := s.orders.GetByPaymentID(ctx, proof.PaymentID)
	switch {
	case err == nil:
		if existing.AttemptID != a.ID {
			return nil, false, ErrPaymentReused
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("get order by payment: %w", err)
	}

	lines, bd, err := s.reprice(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if bd.Totals.AmountMinorUnits() != proof.AmountMinorUnits {
		return nil, false, errors.Wrapf(ErrAmountMismatch, "paid %d, expected %d",
			proof.AmountMinorUnits, bd.Totals.AmountMinorUnits())
	}

	o := s.build(a, lines, bd)
	o.Status = StatusConfirmed
	o.IsPaid = true
	o.PaymentID = proof.PaymentID
	o.GatewayOrderID = proof.GatewayOrderID

	return s.create(ctx, o)
}

// FindByPaymentID returns the order settled by paymentID.
func (s *Service) FindByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	return s.orders.GetByPaymentID(ctx, paymentID)
}

// Get returns the user's order.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) create(ctx context.Context, o *Order) (*Order, bool, error) {
	saved, created, err := s.orders.Create(ctx, o)
	if err != nil {
		return nil, false, err
	}
	if !created && o.PaymentID != "" && saved.PaymentID != o.PaymentID {
		return nil, false, ErrAttemptAlreadyPaid
	}
	return saved, created, nil
}

// reprice rebuilds the attempt's lines from the live catalog and prices them
// with the promo terms the customer accepted. The booked slot must still be
// open.
func (s *Service) reprice(ctx context.Context, a checkout.Attempt) ([]pricing.CartLine, pricing.Breakdown, error) {
	if err := s.checkSlot(a); err != nil {
		return nil, pricing.Breakdown{}, err
	}

	lines, err := s.lines.Lines(ctx, a.Items())
	if err != nil {
		return nil, pricing.Breakdown{}, fmt.Errorf("load lines: %w", err)
	}
	for _, l := range lines {
		if !l.InStock() {
			return nil, pricing.Breakdown{}, &OutOfStockError{
				ProductID: l.ItemID,
				Requested: l.Quantity,
				Available: l.AvailableStock,
			}
		}
	}
	return lines, s.engine.Compute(lines, a.Promo, a.Policy), nil
}

func (s *Service) checkSlot(a checkout.Attempt) error {
	if !a.Policy.RequiresSlot() {
		return nil
	}
	if a.Slot == nil {
		return &SlotUnavailableError{Err: errNoSlot}
	}
	if err := s.slots.Validate(*a.Slot, s.now()); err != nil {
		return &SlotUnavailableError{Slot: *a.Slot, Err: err}
	}
	return nil
}

func (s *Service) build(a checkout.Attempt, lines []pricing.CartLine, bd pricing.Breakdown) *Order {
	items := make([]Item, len(lines))
	for i, l := range lines {
		alloc := bd.Lines[i]
		items[i] = Item{
			ProductID:    l.ItemID,
			Name:         l.Name,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			Subtotal:     alloc.Subtotal,
			Discount:     alloc.DiscountShare,
			TaxableValue: alloc.TaxableValue,
			CGST:         alloc.CGST.Round(2),
			SGST:         alloc.SGST.Round(2),
		}
	}

	return &Order{
		ID:            s.newID(),
		UserID:        a.UserID,
		AttemptID:     a.ID,
		Items:         items,
		Fulfillment:   a.Policy,
		Address:       a.Address,
		Pickup:        a.Pickup,
		Slot:          a.Slot,
		PaymentMethod: string(a.Method),
		PromoCode:     a.PromoCode(),
		Totals:        bd.Totals,
		Status:        StatusPlaced,
		Note:          a.Note,
		CreatedAt:     s.now(),
	}
}

// IsRejection reports whether err is a definitive refusal to create the
// order, as opposed to a failure that may not have reached the database.
func IsRejection(err error) bool {
	var (
		stockErr *OutOfStockError
		priceErr *PriceChangedError
		slotErr  *SlotUnavailableError
	)
	return errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrAttemptAlreadyPaid) ||
		errors.Is(err, ErrPaymentReused) ||
		errors.Is(err, catalog.ErrNotFound) ||
		errors.As(err, &stockErr) ||
		errors.As(err, &priceErr) ||
		errors.As(err, &slotErr)
}

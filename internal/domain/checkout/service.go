package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// AttemptStore keeps assembled attempts and tracks each user's current one.
type AttemptStore interface {
	Save(ctx context.Context, a Attempt) error
	// Get returns ErrAttemptNotFound for unknown or expired attempts.
	Get(ctx context.Context, attemptID string) (*Attempt, error)
	Delete(ctx context.Context, attemptID string) error
	// SwapCurrent marks attemptID as the user's current attempt and returns
	// the one it replaced, or "".
	SwapCurrent(ctx context.Context, userID, attemptID string) (string, error)
}

// Invalidator is told when an attempt is superseded or abandoned, so any
// payment in flight for it stops being honored.
type Invalidator interface {
	Invalidate(ctx context.Context, attemptID string) error
}

// LineSource prices cart items against the live catalog.
type LineSource interface {
	Lines(ctx context.Context, items []catalog.Item) ([]pricing.CartLine, error)
}

var _ LineSource = (*catalog.LineBuilder)(nil)

// BeginRequest is a customer's checkout submission.
type BeginRequest struct {
	UserID    string
	Policy    fulfillment.Policy
	Slot      *slot.Selection
	PromoCode string
	Method    PaymentMethod
	Note      string
}

// Service loads checkout inputs from their owners, assembles an attempt and
// keeps at most one live attempt per user.
type Service struct {
	assembler *Assembler
	carts     cart.Repository
	lines     LineSource
	addresses fulfillment.AddressRepository
	pickups   fulfillment.PickupRepository
	promos    promo.Resolver
	attempts  AttemptStore

	invalidator Invalidator
}

// NewService creates a Service.
func NewService(
	assembler *Assembler,
	carts cart.Repository,
	lines LineSource,
	addresses fulfillment.AddressRepository,
	pickups fulfillment.PickupRepository,
	promos promo.Resolver,
	attempts AttemptStore,
) *Service {
	return &Service{
		assembler: assembler,
		carts:     carts,
		lines:     lines,
		addresses: addresses,
		pickups:   pickups,
		promos:    promos,
		attempts:  attempts,
	}
}

// SetInvalidator registers who to notify when an attempt is superseded.
// The payment orchestrator depends on the attempt store, so it is wired in
// after construction.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Begin assembles a new attempt for the user and makes it current. A previous
// attempt of the same user is invalidated.
func (s *Service) Begin(ctx context.Context, req BeginRequest) (*Attempt, error) {
	items, err := s.carts.Items(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(items) == 0 {
		return nil, invalid(CodeEmptyCart, "cart", "your cart is empty")
	}

	lines, err := s.lines.Lines(ctx, items)
	if err != nil {
		var qtyErr *catalog.InvalidQuantityError
		switch {
		case errors.As(err, &qtyErr):
			return nil, invalid(CodeInvalidQuantity, "cart", qtyErr.Error())
		case errors.Is(err, catalog.ErrNotFound):
			return nil, invalid(CodeItemUnavailable, "cart", err.Error())
		}
		return nil, errors.Wrap(err, "price cart")
	}

	in := Input{
		UserID: req.UserID,
		Lines:  lines,
		Policy: req.Policy,
		Slot:   req.Slot,
		Method: req.Method,
		Note:   req.Note,
	}

	switch {
	case req.Policy.Mode == fulfillment.ModeHomeDelivery && req.Policy.AddressID != "":
		addr, err := s.addresses.GetAddress(ctx, req.UserID, req.Policy.AddressID)
		switch {
		case errors.Is(err, fulfillment.ErrAddressNotFound):
		case err != nil:
			return nil, errors.Wrap(err, "load address")
		default:
			in.Address = addr
		}
	case req.Policy.IsPickup() && req.Policy.PickupLocationID != "":
		loc, err := s.pickups.GetPickupLocation(ctx, req.Policy.PickupLocationID)
		switch {
		case errors.Is(err, fulfillment.ErrPickupNotFound):
		case err != nil:
			return nil, errors.Wrap(err, "load pickup location")
		default:
			in.Pickup = loc
		}
	}

	p, err := s.promos.Resolve(ctx, req.PromoCode)
	if err != nil {
		if errors.Is(err, promo.ErrInvalidPromo) ||
			errors.Is(err, promo.ErrPromoExpired) ||
			errors.Is(err, promo.ErrPromoUsageLimitReached) {
			return nil, invalid(CodePromoInvalid, "promoCode", err.Error())
		}
		return nil, errors.Wrap(err, "resolve promo")
	}
	in.Promo = p

	attempt, err := s.assembler.Assemble(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := s.attempts.Save(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "save attempt")
	}

	prev, err := s.attempts.SwapCurrent(ctx, req.UserID, attempt.ID)
	if err != nil {
		return nil, errors.Wrap(err, "mark current attempt")
	}
	if prev != "" && prev != attempt.ID {
		s.invalidate(ctx, prev)
	}

	return &attempt, nil
}

// Get returns the user's attempt.
func (s *Service) Get(ctx context.Context, userID, attemptID string) (*Attempt, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// Abandon drops the user's attempt. Payment results that arrive for it later
// are not honored.
func (s *Service) Abandon(ctx context.Context, userID, attemptID string) error {
	if _, err := s.Get(ctx, userID, attemptID); err != nil {
		return err
	}
	s.invalidate(ctx, attemptID)
	if err := s.attempts.Delete(ctx, attemptID); err != nil {
		return errors.Wrap(err, "delete attempt")
	}
	return nil
}

// Check confirms the attempt still describes the user's cart. When the cart
// changed, the attempt is invalidated and dropped, and ErrAttemptStale is
// returned.
func (s *Service) Check(ctx context.Context, a Attempt) error {
	items, err := s.carts.Items(ctx, a.UserID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	if sameItems(items, a.Items()) {
		return nil
	}

	zctx.From(ctx).Info("Cart changed after checkout began",
		zap.String("attempt_id", a.ID),
		zap.String("user_id", a.UserID),
	)
	s.invalidate(ctx, a.ID)
	if err := s.attempts.Delete(ctx, a.ID); err != nil {
		return errors.Wrap(err, "delete stale attempt")
	}
	return ErrAttemptStale
}

// sameItems reports whether a and b hold the same quantity of every product.
func sameItems(a, b []catalog.Item) bool {
	if len(a) != len(b) {
		return false
	}
	diff := make(map[string]int, len(a))
	for _, it := range a {
		diff[it.ProductID] += it.Quantity
	}
	for _, it := range b {
		diff[it.ProductID] -= it.Quantity
	}
	for _, n := range diff {
		if n != 0 {
			return false
		}
	}
	return true
}

func (s *Service) invalidate(ctx context.Context, attemptID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, attemptID); err != nil {
		zctx.From(ctx).Warn("Invalidate superseded attempt",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}
}

// Package checkout assembles a validated, priced checkout attempt from the
// cart, the delivery policy and the payment choice.
package checkout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// Input is everything the assembler needs. Collaborator lookups (address,
// pickup location, promo) have already happened.
type Input struct {
	UserID  string
	Lines   []pricing.CartLine
	Policy  fulfillment.Policy
	Address *fulfillment.Address
	Pickup  *fulfillment.PickupLocation
	Slot    *slot.Selection
	Promo   *pricing.Promo
	Method  PaymentMethod
	Note    string
}

// AssemblerConfig holds checkout rules that are not part of pricing.
type AssemblerConfig struct {
	// MinOnlineAmount is the smallest positive total the gateway accepts.
	MinOnlineAmount decimal.Decimal
}

// Assembler validates checkout inputs and freezes them into an Attempt.
type Assembler struct {
	engine      *pricing.Engine
	slots       *slot.Scheduler
	eligibility fulfillment.EligibilityChecker
	minOnline   decimal.Decimal

	now   func() time.Time
	newID func() string
}

// NewAssembler creates an Assembler.
func NewAssembler(
	engine *pricing.Engine,
	slots *slot.Scheduler,
	eligibility fulfillment.EligibilityChecker,
	cfg AssemblerConfig,
) *Assembler {
	return &Assembler{
		engine:      engine,
		slots:       slots,
		eligibility: eligibility,
		minOnline:   cfg.MinOnlineAmount,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Assemble validates in, in a fixed order, and returns the first problem as
// a *ValidationError. Other errors come from the eligibility checker.
//
// Checks run in this order: cart, address or pickup location, slot, payment
// method, minimum amount.
func (a *Assembler) Assemble(ctx context.Context, in Input) (Attempt, error) {
	if vErr := validateLines(in.Lines); vErr != nil {
		return Attempt{}, vErr
	}

	if err := in.Policy.Validate(); err != nil {
		return Attempt{}, invalid(CodeInvalidPolicy, "policy", err.Error())
	}

	if in.Policy.IsPickup() {
		if in.Pickup == nil {
			return Attempt{}, invalid(CodePickupMissing, "pickupLocationId",
				"select a pickup location")
		}
		in.Address = nil
	} else {
		if err := a.checkAddress(ctx, in.Address); err != nil {
			return Attempt{}, err
		}
		in.Pickup = nil
	}

	if in.Policy.RequiresSlot() {
		if in.Slot == nil {
			return Attempt{}, invalid(CodeSlotMissing, "slot", "select a time slot")
		}
		if err := a.slots.Validate(*in.Slot, a.now()); err != nil {
			return Attempt{}, invalid(CodeSlotInvalid, "slot", err.Error())
		}
		sel := *in.Slot
		in.Slot = &sel
	} else {
		in.Slot = nil
	}

	if !in.Method.Valid() {
		return Attempt{}, invalid(CodeInvalidPaymentMethod, "paymentMethod",
			fmt.Sprintf("unknown payment method %q", in.Method))
	}
	if in.Policy.IsPickup() && in.Method == PaymentCOD {
		return Attempt{}, &ValidationError{
			Code:            CodePaymentMethodUnavailable,
			Field:           "paymentMethod",
			Message:         "cash on delivery is not available for store pickup",
			SuggestedMethod: PaymentOnline,
		}
	}

	totals := a.engine.ComputeTotals(in.Lines, in.Promo, in.Policy)

	if in.Method == PaymentOnline && totals.GrandTotal.IsPositive() &&
		totals.GrandTotal.LessThan(a.minOnline) {
		return Attempt{}, invalid(CodeAmountBelowMinimum, "paymentMethod",
			fmt.Sprintf("online payments need a total of at least %s", a.minOnline.StringFixed(2)))
	}

	return Attempt{
		ID:          a.newID(),
		UserID:      in.UserID,
		Lines:       slices.Clone(in.Lines),
		Promo:       in.Promo,
		Policy:      in.Policy,
		Address:     in.Address,
		Pickup:      in.Pickup,
		Slot:        in.Slot,
		Method:      in.Method,
		Note:        in.Note,
		Totals:      totals,
		Fingerprint: fingerprint(in),
		CreatedAt:   a.now(),
	}, nil
}

func validateLines(lines []pricing.CartLine) *ValidationError {
	if len(lines) == 0 {
		return invalid(CodeEmptyCart, "cart", "your cart is empty")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return invalid(CodeInvalidQuantity, "cart",
				fmt.Sprintf("quantity must be greater than 0 for %s", l.Name))
		}
		if !l.InStock() {
			return invalid(CodeOutOfStock, "cart",
				fmt.Sprintf("%s is out of stock", l.Name))
		}
	}
	return nil
}

func (a *Assembler) checkAddress(ctx context.Context, addr *fulfillment.Address) error {
	if addr == nil {
		return invalid(CodeAddressMissing, "addressId", "select a delivery address")
	}
	if !addr.HasCoordinates() {
		return invalid(CodeAddressUnlocated, "addressId",
			"the delivery address has no location; update it and try again")
	}

	res, err := a.eligibility.Check(ctx, *addr)
	if err != nil {
		return errors.Wrap(err, "check delivery eligibility")
	}
	if !res.Eligible {
		msg := "we do not deliver to this address"
		if res.Reason != "" {
			msg = res.Reason
		}
		return invalid(CodeAddressUndeliverable, "addressId", msg)
	}
	return nil
}

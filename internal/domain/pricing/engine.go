package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
)

// Engine prices carts under a fixed fee schedule. The zero value charges no
// delivery fee.
type Engine struct {
	fees FeeSchedule
}

// NewEngine returns an Engine using the given fee schedule.
func NewEngine(fees FeeSchedule) *Engine {
	return &Engine{fees: fees}
}

// Fees returns the engine's fee schedule.
func (e *Engine) Fees() FeeSchedule { return e.fees }

// ComputeTotals prices the lines. It is deterministic and never returns
// negative components.
func (e *Engine) ComputeTotals(lines []CartLine, promo *Promo, policy fulfillment.Policy) Totals {
	return e.Compute(lines, promo, policy).Totals
}

// Compute prices the lines and returns the per-line allocation as well.
func (e *Engine) Compute(lines []CartLine, promo *Promo, policy fulfillment.Policy) Breakdown {
	subtotals := make([]decimal.Decimal, len(lines))
	itemsSubtotal := zero
	for i, l := range lines {
		subtotals[i] = floorAtZero(l.Subtotal()).Round(2)
		itemsSubtotal = itemsSubtotal.Add(subtotals[i])
	}

	discount, applied := Discount(promo, itemsSubtotal)
	shares := allocate(subtotals, itemsSubtotal, discount)

	allocations := make([]LineAllocation, len(lines))
	cgst, sgst, taxableBase := zero, zero, zero
	for i, l := range lines {
		a := LineAllocation{
			ItemID:        l.ItemID,
			Subtotal:      subtotals[i],
			DiscountShare: shares[i],
			TaxableValue:  floorAtZero(subtotals[i].Sub(shares[i])),
			CGST:          zero,
			SGST:          zero,
		}
		if l.IsTaxable {
			a.CGST = a.TaxableValue.Mul(l.CGSTRate).Div(hundred)
			a.SGST = a.TaxableValue.Mul(l.SGSTRate).Div(hundred)
		}
		cgst = cgst.Add(a.CGST)
		sgst = sgst.Add(a.SGST)
		taxableBase = taxableBase.Add(a.TaxableValue)
		allocations[i] = a
	}
	cgst = floorAtZero(cgst).Round(2)
	sgst = floorAtZero(sgst).Round(2)

	afterDiscount := floorAtZero(itemsSubtotal.Sub(discount))
	fee := e.deliveryFee(policy, afterDiscount.Add(cgst).Add(sgst))

	return Breakdown{
		Totals: Totals{
			ItemsSubtotal:  itemsSubtotal,
			DiscountAmount: discount,
			TaxableBase:    taxableBase,
			CGST:           cgst,
			SGST:           sgst,
			DeliveryFee:    fee,
			GrandTotal:     afterDiscount.Add(cgst).Add(sgst).Add(fee),
		},
		Lines:        allocations,
		PromoApplied: applied,
	}
}

func (e *Engine) deliveryFee(policy fulfillment.Policy, payable decimal.Decimal) decimal.Decimal {
	if policy.IsPickup() {
		return zero
	}
	if payable.GreaterThanOrEqual(e.fees.FreeDeliveryThreshold) {
		return zero
	}
	return floorAtZero(e.fees.DeliveryFee).Round(2)
}

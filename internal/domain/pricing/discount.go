package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount returns the promo discount for the given items subtotal. It is
// zero without a promo or below the promo's minimum purchase, and never
// exceeds min(MaxDiscount, subtotal).
func Discount(promo *Promo, subtotal decimal.Decimal) (decimal.Decimal, bool) {
	if promo == nil || subtotal.LessThan(promo.MinPurchase) {
		return zero, false
	}

	var amount decimal.Decimal
	switch promo.DiscountType {
	case DiscountPercent:
		amount = subtotal.Mul(promo.Value).Div(hundred)
	case DiscountAmount:
		amount = promo.Value
	default:
		return zero, false
	}

	if promo.MaxDiscount.Valid {
		amount = decimal.Min(amount, promo.MaxDiscount.Decimal)
	}
	amount = decimal.Min(amount, subtotal)

	return floorAtZero(amount).Round(2), true
}

// allocate splits discount across lines in proportion to their subtotals.
// Shares are taken as differences of the rounded cumulative allocation, so
// they add up to discount exactly and no share exceeds its line subtotal.
func allocate(subtotals []decimal.Decimal, itemsSubtotal, discount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(subtotals))
	for i := range shares {
		shares[i] = zero
	}
	if !itemsSubtotal.IsPositive() || !discount.IsPositive() {
		return shares
	}

	cumulative, allocated := zero, zero
	for i, sub := range subtotals {
		cumulative = cumulative.Add(sub)
		upTo := cumulative.Mul(discount).Div(itemsSubtotal).Round(2)
		shares[i] = upTo.Sub(allocated)
		allocated = upTo
	}

	return shares
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

// Package pricing computes itemized order totals from cart lines, an optional
// promo code and a delivery policy. Everything in this package is pure: no
// I/O, no clock, no shared state.
package pricing

import (
	"github.com/shopspring/decimal"
)

// UnboundedStock marks a line whose item has no stock cap.
const UnboundedStock = -1

// CartLine is one priced item of a cart snapshot.
type CartLine struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	MRP       decimal.Decimal `json:"mrp"`
	Quantity  int             `json:"quantity"`
	// CGSTRate and SGSTRate are percentages, e.g. 2.5 for 2.5%.
	CGSTRate       decimal.Decimal `json:"cgst_rate"`
	SGSTRate       decimal.Decimal `json:"sgst_rate"`
	IsTaxable      bool            `json:"is_taxable"`
	AvailableStock int             `json:"available_stock"`
}

// Subtotal returns UnitPrice * Quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// InStock reports whether the requested quantity fits the available stock.
func (l CartLine) InStock() bool {
	return l.AvailableStock == UnboundedStock || l.Quantity <= l.AvailableStock
}

// DiscountType enumerates promo discount strategies.
type DiscountType string

const (
	// DiscountPercent takes Value percent off the items subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountAmount takes a flat Value off the items subtotal.
	DiscountAmount DiscountType = "amount"
)

// Promo is a resolved promo code ready to be priced.
type Promo struct {
	Code         string          `json:"code"`
	DiscountType DiscountType    `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	MinPurchase  decimal.Decimal `json:"min_purchase"`
	// MaxDiscount caps the discount. An invalid (NULL) value means the
	// discount is capped by the subtotal only.
	MaxDiscount decimal.NullDecimal `json:"max_discount"`
}

// FeeSchedule holds the delivery fee policy.
type FeeSchedule struct {
	// FreeDeliveryThreshold is compared against subtotal - discount + taxes.
	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
}

// Totals is the itemized result of pricing a cart. All components are
// rounded to two decimals.
type Totals struct {
	ItemsSubtotal  decimal.Decimal `json:"items_subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxableBase    decimal.Decimal `json:"taxable_base"`
	CGST           decimal.Decimal `json:"cgst"`
	SGST           decimal.Decimal `json:"sgst"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
}

// AmountMinorUnits returns the grand total in minor currency units (paise).
func (t Totals) AmountMinorUnits() int64 {
	return MinorUnits(t.GrandTotal)
}

// Equal reports whether every component of t equals the one in o.
func (t Totals) Equal(o Totals) bool {
	return t.ItemsSubtotal.Equal(o.ItemsSubtotal) &&
		t.DiscountAmount.Equal(o.DiscountAmount) &&
		t.TaxableBase.Equal(o.TaxableBase) &&
		t.CGST.Equal(o.CGST) &&
		t.SGST.Equal(o.SGST) &&
		t.DeliveryFee.Equal(o.DeliveryFee) &&
		t.GrandTotal.Equal(o.GrandTotal)
}

// MinorUnits converts a currency amount to minor units, rounding half away
// from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// LineAllocation is the per-line outcome of discount allocation and taxation.
type LineAllocation struct {
	ItemID        string
	Subtotal      decimal.Decimal
	DiscountShare decimal.Decimal
	TaxableValue  decimal.Decimal
	CGST          decimal.Decimal
	SGST          decimal.Decimal
}

// Breakdown is Totals plus the per-line detail it was built from.
type Breakdown struct {
	Totals
	Lines        []LineAllocation
	PromoApplied bool
}

package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

var (
	// ErrAttemptNotFound is returned when an attempt does not exist, expired,
	// or belongs to another user.
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	// ErrAttemptStale is returned when the cart changed after the attempt was
	// assembled. The attempt is dropped and checkout must begin again.
	ErrAttemptStale = errors.New("cart changed since checkout began")
)

// PaymentMethod enumerates how the customer pays.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentOnline
}

// Attempt is an assembled checkout: everything needed to charge and persist
// an order, frozen at assembly time. It is never modified after Assemble
// returns; any change to its inputs means assembling a new attempt.
type Attempt struct {
	ID          string                      `json:"id"`
	UserID      string                      `json:"user_id"`
	Lines       []pricing.CartLine          `json:"lines"`
	Promo       *pricing.Promo              `json:"promo,omitempty"`
	Policy      fulfillment.Policy          `json:"policy"`
	Address     *fulfillment.Address        `json:"address,omitempty"`
	Pickup      *fulfillment.PickupLocation `json:"pickup,omitempty"`
	Slot        *slot.Selection             `json:"slot,omitempty"`
	Method      PaymentMethod               `json:"method"`
	Note        string                      `json:"note,omitempty"`
	Totals      pricing.Totals              `json:"totals"`
	Fingerprint string                      `json:"fingerprint"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// Items returns the cart item references of the attempt.
func (a Attempt) Items() []catalog.Item {
	items := make([]catalog.Item, len(a.Lines))
	for i, l := range a.Lines {
		items[i] = catalog.Item{ProductID: l.ItemID, Quantity: l.Quantity}
	}
	return items
}

// PromoCode returns the applied promo code or "".
func (a Attempt) PromoCode() string {
	if a.Promo == nil {
		return ""
	}
	return a.Promo.Code
}

// IsImmediate reports whether the attempt settles without the gateway: cash
// orders and online orders that cost nothing.
func (a Attempt) IsImmediate() bool {
	return a.Method == PaymentCOD || !a.Totals.GrandTotal.IsPositive()
}

// fingerprint hashes every input that affects what would be charged or
// delivered. Equal inputs give equal fingerprints.
func fingerprint(in Input) string {
	var b strings.Builder
	field := func(parts ...string) {
		for _, p := range parts {
			b.WriteString(p)
			b.WriteByte('|')
		}
		b.WriteByte('\n')
	}

	field("user", in.UserID)
	for _, l := range in.Lines {
		field("line", l.ItemID, strconv.Itoa(l.Quantity),
			l.UnitPrice.String(), l.MRP.String(),
			l.CGSTRate.String(), l.SGSTRate.String(),
			strconv.FormatBool(l.IsTaxable))
	}
	if p := in.Promo; p != nil {
		field("promo", p.Code, string(p.DiscountType), p.Value.String(),
			p.MinPurchase.String(), p.MaxDiscount.Decimal.String(),
			strconv.FormatBool(p.MaxDiscount.Valid))
	}
	field("policy", string(in.Policy.Mode), in.Policy.AddressID,
		string(in.Policy.Preference), in.Policy.PickupLocationID)
	if in.Slot != nil {
		field("slot", in.Slot.Date, in.Slot.Window)
	}
	field("payment", string(in.Method))
	field("note", in.Note)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

var (
	// ErrInvalidPromo is returned when a promo code is not found or inactive.
	ErrInvalidPromo = errors.New("invalid promo code")
	// ErrPromoExpired is returned when a promo is outside its valid time window.
	ErrPromoExpired = errors.New("promo code expired")
	// ErrPromoUsageLimitReached is returned when a promo has exhausted its allowed uses.
	ErrPromoUsageLimitReached = errors.New("promo code usage limit reached")
)

// Rule is a stored promo code with its eligibility constraints.
type Rule struct {
	Code         string
	DiscountType pricing.DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.NullDecimal
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
}

// Promo returns the pricing view of the rule.
func (r *Rule) Promo() *pricing.Promo {
	return &pricing.Promo{
		Code:         r.Code,
		DiscountType: r.DiscountType,
		Value:        r.Value,
		MinPurchase:  r.MinPurchase,
		MaxDiscount:  r.MaxDiscount,
	}
}

// Repository provides lookup of promo rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// Package promo resolves promo codes into pricing inputs, enforcing the
// code's validity window and usage limit.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Resolver turns a promo code into a priced promo.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*pricing.Promo, error)
}

var _ Resolver = (*RepoResolver)(nil)

// RepoResolver implements Resolver on top of a Repository. Usage is not
// counted here; the order store increments it when an order is created.
type RepoResolver struct {
	repo Repository
	now  func() time.Time
}

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo, now: time.Now}
}

// Resolve looks up the rule for code and checks its temporal validity and
// usage limit. An empty code resolves to no promo.
func (v *RepoResolver) Resolve(ctx context.Context, code string) (*pricing.Promo, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidPromo) {
			return nil, ErrInvalidPromo
		}
		return nil, errors.Wrap(err, "lookup promo")
	}

	now := v.now()

	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrPromoExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrPromoExpired
	}

	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrPromoUsageLimitReached
	}

	return rule.Promo(), nil
}

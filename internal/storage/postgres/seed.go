package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/promo"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, category, price, mrp, cgst_rate, sgst_rate, is_taxable, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
			price = EXCLUDED.price, mrp = EXCLUDED.mrp, cgst_rate = EXCLUDED.cgst_rate,
			sgst_rate = EXCLUDED.sgst_rate, is_taxable = EXCLUDED.is_taxable,
			stock = EXCLUDED.stock, active = TRUE, updated_at = now()`

	upsertPromoSQL = `INSERT INTO promo_codes (code, discount_type, value, min_purchase, max_discount,
			description, valid_from, valid_until, max_uses)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase, max_discount = EXCLUDED.max_discount,
			description = EXCLUDED.description, valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until, max_uses = EXCLUDED.max_uses, active = TRUE`

	upsertPickupLocationSQL = `INSERT INTO pickup_locations (id, name, address) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, active = TRUE`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, label, line1, line2, city, state, pincode, phone,
			latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, label = EXCLUDED.label,
			line1 = EXCLUDED.line1, line2 = EXCLUDED.line2, city = EXCLUDED.city, state = EXCLUDED.state,
			pincode = EXCLUDED.pincode, phone = EXCLUDED.phone,
			latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`

	upsertCartItemSQL = `INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			scopes = EXCLUDED.scopes, active = TRUE`
)

// Seeder writes reference data: products, promo codes, pickup locations,
// addresses, carts and API keys. Every write is an upsert.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertProduct creates or replaces a product and reactivates it.
func (s *Seeder) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := s.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Category, p.Price, p.MRP, p.CGSTRate, p.SGSTRate, p.IsTaxable, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertPromo creates or replaces a promo code. The usage counter is kept.
func (s *Seeder) UpsertPromo(ctx context.Context, r promo.Rule) error {
	_, err := s.pool.Exec(ctx, upsertPromoSQL, promoArgs(r)...)
	if err != nil {
		return fmt.Errorf("upserting promo %q: %w", r.Code, err)
	}
	return nil
}

// UpsertPromos writes rules in one batch round trip.
func (s *Seeder) UpsertPromos(ctx context.Context, rules []promo.Rule) error {
	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(upsertPromoSQL, promoArgs(r)...)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d promos: %w", len(rules), err)
	}
	return nil
}

func promoArgs(r promo.Rule) []any {
	return []any{
		r.Code, string(r.DiscountType), r.Value, r.MinPurchase, r.MaxDiscount,
		r.Description, r.ValidFrom, r.ValidUntil, r.MaxUses,
	}
}

// UpsertPickupLocation creates or replaces a pickup location.
func (s *Seeder) UpsertPickupLocation(ctx context.Context, loc fulfillment.PickupLocation) error {
	if _, err := s.pool.Exec(ctx, upsertPickupLocationSQL, loc.ID, loc.Name, loc.Address); err != nil {
		return fmt.Errorf("upserting pickup location %q: %w", loc.ID, err)
	}
	return nil
}

// UpsertAddress creates or replaces a saved address.
func (s *Seeder) UpsertAddress(ctx context.Context, a fulfillment.Address) error {
	_, err := s.pool.Exec(ctx, upsertAddressSQL,
		a.ID, a.UserID, a.Label, a.Line1, a.Line2, a.City, a.State, a.Pincode, a.Phone,
		a.Latitude, a.Longitude,
	)
	if err != nil {
		return fmt.Errorf("upserting address %q: %w", a.ID, err)
	}
	return nil
}

// SetCartItem puts an item in the user's cart with the given quantity.
func (s *Seeder) SetCartItem(ctx context.Context, userID string, item catalog.Item) error {
	if _, err := s.pool.Exec(ctx, upsertCartItemSQL, userID, item.ProductID, item.Quantity); err != nil {
		return fmt.Errorf("setting cart item %q for %q: %w", item.ProductID, userID, err)
	}
	return nil
}

// UpsertAPIKey stores an API key by its hash.
func (s *Seeder) UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	if _, err := s.pool.Exec(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, info.Scopes); err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}

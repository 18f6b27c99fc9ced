package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
)

const (
	getAddressSQL = `SELECT id, user_id, label, line1, line2, city, state, pincode, phone, latitude, longitude
		FROM addresses WHERE id = $1 AND user_id = $2`

	getPickupLocationSQL = `SELECT id, name, address FROM pickup_locations
		WHERE id = $1 AND active = TRUE`
)

var (
	_ fulfillment.AddressRepository = (*FulfillmentRepository)(nil)
	_ fulfillment.PickupRepository  = (*FulfillmentRepository)(nil)
)

// FulfillmentRepository reads saved addresses and pickup locations.
type FulfillmentRepository struct {
	pool *pgxpool.Pool
}

// NewFulfillmentRepository returns a FulfillmentRepository that uses the given pool.
func NewFulfillmentRepository(pool *pgxpool.Pool) *FulfillmentRepository {
	return &FulfillmentRepository{pool: pool}
}

// GetAddress returns the user's saved address. An address owned by another
// user is reported as fulfillment.ErrAddressNotFound.
func (r *FulfillmentRepository) GetAddress(ctx context.Context, userID, addressID string) (*fulfillment.Address, error) {
	rows, err := r.pool.Query(ctx, getAddressSQL, addressID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting address %q: %w", addressID, err)
	}

	addr, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (fulfillment.Address, error) {
		var a fulfillment.Address
		err := row.Scan(
			&a.ID, &a.UserID, &a.Label, &a.Line1, &a.Line2,
			&a.City, &a.State, &a.Pincode, &a.Phone, &a.Latitude, &a.Longitude,
		)
		return a, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fulfillment.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", addressID, err)
	}
	return &addr, nil
}

// GetPickupLocation returns an active pickup location.
func (r *FulfillmentRepository) GetPickupLocation(ctx context.Context, id string) (*fulfillment.PickupLocation, error) {
	rows, err := r.pool.Query(ctx, getPickupLocationSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting pickup location %q: %w", id, err)
	}

	loc, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[fulfillment.PickupLocation])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fulfillment.ErrPickupNotFound
		}
		return nil, fmt.Errorf("getting pickup location %q: %w", id, err)
	}
	return &loc, nil
}

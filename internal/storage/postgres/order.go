package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

const (
	orderColumns = `id, user_id, attempt_id, items, fulfillment, payment_method,
		COALESCE(payment_id, ''), gateway_order_id, promo_code,
		items_subtotal, discount_amount, taxable_base, cgst, sgst, delivery_fee, grand_total,
		status, is_paid, note, created_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, attempt_id, items, fulfillment, payment_method,
		payment_id, gateway_order_id, promo_code,
		items_subtotal, discount_amount, taxable_base, cgst, sgst, delivery_fee, grand_total,
		status, is_paid, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9,
		$10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	// Unbounded stock (-1) is never decremented.
	decrementStockSQL = `UPDATE products
		SET stock = CASE WHEN stock = -1 THEN -1 ELSE stock - $2 END, updated_at = now()
		WHERE id = $1 AND (stock = -1 OR stock >= $2)`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`

	incrementPromoUsesSQL = `UPDATE promo_codes SET uses = uses + 1 WHERE UPPER(code) = UPPER($1)`

	getOrderByIDSQL        = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByPaymentIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_id = $1`
	getOrderByAttemptIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE attempt_id = $1`
)

// fulfillmentRecord is the JSONB form of an order's delivery details.
type fulfillmentRecord struct {
	Policy  fulfillment.Policy          `json:"policy"`
	Address *fulfillment.Address        `json:"address,omitempty"`
	Pickup  *fulfillment.PickupLocation `json:"pickup,omitempty"`
	Slot    *slot.Selection             `json:"slot,omitempty"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order, decrements stock for its items and counts the
// promo use in one transaction. A unique violation on the attempt or payment
// id means the order already exists: the stored order is returned with
// created == false.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling order items: %w", err)
	}
	fulfillmentJSON, err := json.Marshal(fulfillmentRecord{
		Policy:  o.Fulfillment,
		Address: o.Address,
		Pickup:  o.Pickup,
		Slot:    o.Slot,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshaling order fulfillment: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		t := o.Totals
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.AttemptID, itemsJSON, fulfillmentJSON, o.PaymentMethod,
			o.PaymentID, o.GatewayOrderID, o.PromoCode,
			t.ItemsSubtotal, t.DiscountAmount, t.TaxableBase, t.CGST, t.SGST, t.DeliveryFee, t.GrandTotal,
			string(o.Status), o.IsPaid, o.Note, o.CreatedAt,
		); err != nil {
			return err
		}

		for _, item := range o.Items {
			if err := decrementStock(ctx, tx, item); err != nil {
				return err
			}
		}

		if o.PromoCode != "" {
			if _, err := tx.Exec(ctx, incrementPromoUsesSQL, o.PromoCode); err != nil {
				return fmt.Errorf("incrementing uses for promo %q: %w", o.PromoCode, err)
			}
		}
		return nil
	})
	if err == nil {
		return o, true, nil
	}
	if !isUniqueViolation(err) {
		var stockErr *order.OutOfStockError
		if errors.As(err, &stockErr) {
			return nil, false, stockErr
		}
		return nil, false, fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	existing, lookupErr := r.existing(ctx, o)
	if lookupErr != nil {
		return nil, false, fmt.Errorf("loading existing order for attempt %q: %w", o.AttemptID, lookupErr)
	}
	return existing, false, nil
}

func (r *OrderRepository) existing(ctx context.Context, o *order.Order) (*order.Order, error) {
	if o.PaymentID != "" {
		found, err := r.GetByPaymentID(ctx, o.PaymentID)
		if !errors.Is(err, order.ErrNotFound) {
			return found, err
		}
	}
	return r.GetByAttemptID(ctx, o.AttemptID)
}

func decrementStock(ctx context.Context, tx pgx.Tx, item order.Item) error {
	tag, err := tx.Exec(ctx, decrementStockSQL, item.ProductID, item.Quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", item.ProductID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	stockErr := &order.OutOfStockError{ProductID: item.ProductID, Requested: item.Quantity}
	if err := tx.QueryRow(ctx, getStockSQL, item.ProductID).Scan(&stockErr.Available); err != nil &&
		!errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reading stock of %q: %w", item.ProductID, err)
	}
	return stockErr
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByPaymentID returns the order settled by the gateway payment id.
func (r *OrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByPaymentIDSQL, paymentID)
}

// GetByAttemptID returns the order created for the checkout attempt.
func (r *OrderRepository) GetByAttemptID(ctx context.Context, attemptID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByAttemptIDSQL, attemptID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o               order.Order
		itemsJSON       []byte
		fulfillmentJSON []byte
		status          string
	)
	t := &o.Totals
	if err := row.Scan(
		&o.ID, &o.UserID, &o.AttemptID, &itemsJSON, &fulfillmentJSON, &o.PaymentMethod,
		&o.PaymentID, &o.GatewayOrderID, &o.PromoCode,
		&t.ItemsSubtotal, &t.DiscountAmount, &t.TaxableBase, &t.CGST, &t.SGST, &t.DeliveryFee, &t.GrandTotal,
		&status, &o.IsPaid, &o.Note, &o.CreatedAt,
	); err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	var rec fulfillmentRecord
	if err := json.Unmarshal(fulfillmentJSON, &rec); err != nil {
		return o, fmt.Errorf("unmarshaling order fulfillment: %w", err)
	}
	o.Fulfillment = rec.Policy
	o.Address = rec.Address
	o.Pickup = rec.Pickup
	o.Slot = rec.Slot
	return o, nil
}

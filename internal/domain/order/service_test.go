package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// --- Mock implementations ---

// memCatalog prices lines from a product table and tracks stock the way the
// database does.
type memCatalog struct {
	mu       sync.Mutex
	products map[string]pricing.CartLine
	err      error
}

func (m *memCatalog) Lines(_ context.Context, items []catalog.Item) ([]pricing.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	lines := make([]pricing.CartLine, len(items))
	for i, it := range items {
		p, ok := m.products[it.ProductID]
		if !ok {
			return nil, &catalog.ProductNotFoundError{ProductID: it.ProductID}
		}
		p.Quantity = it.Quantity
		lines[i] = p
	}
	return lines, nil
}

func (m *memCatalog) decrement(id string, qty int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	if p.AvailableStock == pricing.UnboundedStock {
		return true
	}
	if p.AvailableStock < qty {
		return false
	}
	p.AvailableStock -= qty
	m.products[id] = p
	return true
}

type memOrders struct {
	mu        sync.Mutex
	catalog   *memCatalog
	byID      map[string]*Order
	byPayment map[string]*Order
	byAttempt map[string]*Order
	creates   int
	createErr error
}

func newMemOrders(c *memCatalog) *memOrders {
	return &memOrders{
		catalog:   c,
		byID:      map[string]*Order{},
		byPayment: map[string]*Order{},
		byAttempt: map[string]*Order{},
	}
}

func (m *memOrders) Create(_ context.Context, o *Order) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if o.PaymentID != "" {
		if existing, ok := m.byPayment[o.PaymentID]; ok {
			return existing, false, nil
		}
	}
	if existing, ok := m.byAttempt[o.AttemptID]; ok {
		return existing, false, nil
	}
	for _, it := range o.Items {
		if !m.catalog.decrement(it.ProductID, it.Quantity) {
			return nil, false, &OutOfStockError{ProductID: it.ProductID, Requested: it.Quantity}
		}
	}
	m.creates++
	m.byID[o.ID] = o
	m.byAttempt[o.AttemptID] = o
	if o.PaymentID != "" {
		m.byPayment[o.PaymentID] = o
	}
	return o, true, nil
}

func (m *memOrders) get(idx map[string]*Order, key string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := idx[key]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	return m.get(m.byID, id)
}

func (m *memOrders) GetByPaymentID(_ context.Context, id string) (*Order, error) {
	return m.get(m.byPayment, id)
}

func (m *memOrders) GetByAttemptID(_ context.Context, id string) (*Order, error) {
	return m.get(m.byAttempt, id)
}

type stubVerifier struct{ ok bool }

func (s stubVerifier) Verify(string, string, string) bool { return s.ok }

// --- Helpers ---

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func taxedLine(id, price string, stock int) pricing.CartLine {
	return pricing.CartLine{
		ItemID:         id,
		Name:           "Item " + id,
		UnitPrice:      d(price),
		MRP:            d(price),
		CGSTRate:       d("2.5"),
		SGSTRate:       d("2.5"),
		IsTaxable:      true,
		AvailableStock: stock,
	}
}

type fixture struct {
	svc     *Service
	catalog *memCatalog
	orders  *memOrders
	engine  *pricing.Engine
}

func newFixture(verified bool) *fixture {
	c := &memCatalog{products: map[string]pricing.CartLine{
		"p1": taxedLine("p1", "400", 10),
		"p2": taxedLine("p2", "200", pricing.UnboundedStock),
	}}
	orders := newMemOrders(c)
	engine := pricing.NewEngine(pricing.FeeSchedule{
		FreeDeliveryThreshold: d("1000"),
		DeliveryFee:           d("40"),
	})
	svc := NewService(c, engine, slot.NewScheduler(slot.Config{}), stubVerifier{ok: verified}, orders)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	return &fixture{svc: svc, catalog: c, orders: orders, engine: engine}
}

// attempt builds an attempt the way the assembler would, with totals priced
// from the current catalog.
func (f *fixture) attempt(t *testing.T, method checkout.PaymentMethod) checkout.Attempt {
	t.Helper()
	items := []catalog.Item{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 2}}
	lines, err := f.catalog.Lines(context.Background(), items)
	require.NoError(t, err)
	policy := fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceQuick)
	return checkout.Attempt{
		ID:     "attempt-1",
		UserID: "user-1",
		Lines:  lines,
		Policy: policy,
		Method: method,
		Totals: f.engine.ComputeTotals(lines, nil, policy),
	}
}

func proofFor(a checkout.Attempt, paymentID string) Proof {
	return Proof{
		GatewayOrderID:   "gw-order-1",
		PaymentID:        paymentID,
		Signature:        "sig",
		AmountMinorUnits: a.Totals.AmountMinorUnits(),
	}
}

// --- Tests ---

func TestVerifyAndCreate_Success(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentOnline)

	o, created, err := f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-1"), a)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, "user-1", o.UserID)
	assert.Equal(t, "attempt-1", o.AttemptID)
	assert.Equal(t, "pay-1", o.PaymentID)
	assert.Equal(t, "gw-order-1", o.GatewayOrderID)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, o.IsPaid)
	require.Len(t, o.Items, 2)
	assert.True(t, d("1260").Equal(o.Totals.GrandTotal), "got %s", o.Totals.GrandTotal)
	assert.True(t, d("20").Equal(o.Items[0].CGST), "got %s", o.Items[0].CGST)

	assert.Equal(t, 8, f.catalog.products["p1"].AvailableStock)
}

func TestVerifyAndCreate_Idempotent(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentOnline)
	proof := proofFor(a, "pay-1")

	first, created, err := f.svc.VerifyAndCreate(context.Background(), proof, a)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.svc.VerifyAndCreate(context.Background(), proof, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, f.orders.creates)
	assert.Equal(t, 8, f.catalog.products["p1"].AvailableStock, "stock decremented once")
}

func TestVerifyAndCreate_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentOnline)
	proof := proofFor(a, "pay-1")

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _, err := f.svc.VerifyAndCreate(context.Background(), proof, a)
			if err == nil {
				ids[i] = o.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.orders.creates)
	assert.Equal(t, 8, f.catalog.products["p1"].AvailableStock)
}

func TestVerifyAndCreate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		verified bool
		mutate   func(f *fixture, a *checkout.Attempt, p *Proof)
		check    func(t *testing.T, err error)
	}{
		{
			name:     "bad signature",
			verified: false,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrSignatureMismatch)
			},
		},
		{
			name:     "amount differs from server total",
			verified: true,
			mutate: func(_ *fixture, _ *checkout.Attempt, p *Proof) {
				p.AmountMinorUnits--
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrAmountMismatch)
			},
		},
		{
			name:     "price raised after payment",
			verified: true,
			mutate: func(f *fixture, _ *checkout.Attempt, _ *Proof) {
				p := f.catalog.products["p2"]
				p.UnitPrice = d("250")
				f.catalog.products["p2"] = p
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrAmountMismatch)
			},
		},
		{
			name:     "stock gone",
			verified: true,
			mutate: func(f *fixture, _ *checkout.Attempt, _ *Proof) {
				p := f.catalog.products["p1"]
				p.AvailableStock = 1
				f.catalog.products["p1"] = p
			},
			check: func(t *testing.T, err error) {
				var stockErr *OutOfStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, "p1", stockErr.ProductID)
				assert.Equal(t, 2, stockErr.Requested)
				assert.Equal(t, 1, stockErr.Available)
			},
		},
		{
			name:     "product removed",
			verified: true,
			mutate: func(f *fixture, _ *checkout.Attempt, _ *Proof) {
				delete(f.catalog.products, "p2")
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, catalog.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.verified)
			a := f.attempt(t, checkout.PaymentOnline)
			proof := proofFor(a, "pay-1")
			if tt.mutate != nil {
				tt.mutate(f, &a, &proof)
			}

			o, created, err := f.svc.VerifyAndCreate(context.Background(), proof, a)
			require.Error(t, err)
			assert.Nil(t, o)
			assert.False(t, created)
			assert.True(t, IsRejection(err), "expected a definitive rejection: %v", err)
			assert.Zero(t, f.orders.creates)
			tt.check(t, err)
		})
	}
}

func TestVerifyAndCreate_PaymentSettledOtherAttempt(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentOnline)
	_, _, err := f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-1"), a)
	require.NoError(t, err)

	other := a
	other.ID = "attempt-2"
	_, _, err = f.svc.VerifyAndCreate(context.Background(), proofFor(other, "pay-1"), other)
	require.ErrorIs(t, err, ErrPaymentReused)
}

func TestVerifyAndCreate_AttemptPaidTwice(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentOnline)
	_, _, err := f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-1"), a)
	require.NoError(t, err)

	_, _, err = f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-2"), a)
	require.ErrorIs(t, err, ErrAttemptAlreadyPaid)
	assert.True(t, IsRejection(err))
}

func TestVerifyAndCreate_StorageFailureIsAmbiguous(t *testing.T) {
	f := newFixture(true)
	f.orders.createErr = errors.New("connection reset by peer")
	a := f.attempt(t, checkout.PaymentOnline)

	_, _, err := f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-1"), a)
	require.Error(t, err)
	assert.False(t, IsRejection(err))
}

func TestCreateCash(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentCOD)

	o, created, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPlaced, o.Status)
	assert.False(t, o.IsPaid)
	assert.Empty(t, o.PaymentID)

	again, created, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, o.ID, again.ID)
	assert.Equal(t, 8, f.catalog.products["p1"].AvailableStock)
}

func TestCreateCash_ZeroValueOnline(t *testing.T) {
	f := newFixture(true)
	f.catalog.products["free"] = pricing.CartLine{
		ItemID: "free", Name: "Sample", AvailableStock: pricing.UnboundedStock,
	}
	lines, err := f.catalog.Lines(context.Background(), []catalog.Item{{ProductID: "free", Quantity: 1}})
	require.NoError(t, err)
	policy := fulfillment.SelfPickup("store-1")
	a := checkout.Attempt{
		ID: "attempt-free", UserID: "user-1", Lines: lines, Policy: policy,
		Method: checkout.PaymentOnline, Totals: f.engine.ComputeTotals(lines, nil, policy),
	}

	o, created, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, o.IsPaid)
}

func TestCreateCash_PriceChanged(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentCOD)
	p := f.catalog.products["p1"]
	p.UnitPrice = d("450")
	f.catalog.products["p1"] = p

	_, _, err := f.svc.CreateCash(context.Background(), a)
	var priceErr *PriceChangedError
	require.ErrorAs(t, err, &priceErr)
	assert.True(t, a.Totals.GrandTotal.Equal(priceErr.Expected.GrandTotal))
	assert.Zero(t, f.orders.creates)
}

func TestGet(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentCOD)
	o, _, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), "user-1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "user-2", o.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.FindByPaymentID(context.Background(), "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSlotRecheckedAtSettlement(t *testing.T) {
	// The fixture clock reads 2025-03-10 12:00 UTC with a 30 minute buffer.
	tests := []struct {
		name    string
		slot    *slot.Selection
		wantErr error
	}{
		{name: "later today", slot: &slot.Selection{Date: "2025-03-10", Window: "14:00-16:00"}},
		{name: "tomorrow", slot: &slot.Selection{Date: "2025-03-11", Window: "10:00-12:00"}},
		{
			name:    "window already started",
			slot:    &slot.Selection{Date: "2025-03-10", Window: "12:00-14:00"},
			wantErr: slot.ErrWindowClosed,
		},
		{
			name:    "date in the past",
			slot:    &slot.Selection{Date: "2020-01-01", Window: "10:00-12:00"},
			wantErr: slot.ErrDateInPast,
		},
		{name: "slot missing", wantErr: errNoSlot},
	}

	settle := map[string]func(f *fixture, a checkout.Attempt) (*Order, bool, error){
		"cash": func(f *fixture, a checkout.Attempt) (*Order, bool, error) {
			a.Method = checkout.PaymentCOD
			return f.svc.CreateCash(context.Background(), a)
		},
		"online": func(f *fixture, a checkout.Attempt) (*Order, bool, error) {
			return f.svc.VerifyAndCreate(context.Background(), proofFor(a, "pay-1"), a)
		},
	}

	for method, fn := range settle {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				f := newFixture(true)
				a := f.attempt(t, checkout.PaymentOnline)
				a.Policy = fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceScheduled)
				a.Slot = tt.slot

				o, created, err := fn(f, a)
				if tt.wantErr == nil {
					require.NoError(t, err)
					assert.True(t, created)
					assert.Equal(t, tt.slot, o.Slot)
					return
				}

				require.ErrorIs(t, err, tt.wantErr)
				var slotErr *SlotUnavailableError
				require.ErrorAs(t, err, &slotErr)
				assert.True(t, IsRejection(err))
				assert.Nil(t, o)
				assert.Zero(t, f.orders.creates)
				assert.Equal(t, 10, f.catalog.products["p1"].AvailableStock)
			})
		}
	}
}

func TestSlotRecheck_SettledOrderStillReturned(t *testing.T) {
	f := newFixture(true)
	a := f.attempt(t, checkout.PaymentCOD)
	a.Policy = fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceScheduled)
	a.Slot = &slot.Selection{Date: "2025-03-10", Window: "14:00-16:00"}

	first, _, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)

	// The window starts; asking again still finds the order placed in time.
	f.svc.now = func() time.Time { return time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC) }
	again, created, err := f.svc.CreateCash(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

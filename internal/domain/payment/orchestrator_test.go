package payment

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

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
)

// --- Mock implementations ---

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	last  GatewayOrderRequest
	err   error
	echo  func(req GatewayOrderRequest) GatewayTransaction
}

func (g *fakeGateway) CreateOrder(_ context.Context, req GatewayOrderRequest) (GatewayTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	if g.err != nil {
		return GatewayTransaction{}, g.err
	}
	if g.echo != nil {
		return g.echo(req), nil
	}
	return GatewayTransaction{
		GatewayOrderID:   fmt.Sprintf("gw_%d", g.calls),
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		KeyID:            "key_test",
	}, nil
}

type fakeOrders struct {
	mu sync.Mutex

	cashErr error
	// verifyErr is returned by VerifyAndCreate. With commitOnError the order
	// is stored anyway, like a commit whose acknowledgement was lost.
	verifyErr     error
	commitOnError bool
	findErr       error
	delay         time.Duration

	byPayment map[string]*order.Order
	byAttempt map[string]*order.Order

	cashCalls   int
	verifyCalls int
	created     int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byPayment: map[string]*order.Order{},
		byAttempt: map[string]*order.Order{},
	}
}

func (f *fakeOrders) store(a checkout.Attempt, paymentID string) *order.Order {
	f.created++
	o := &order.Order{
		ID:        fmt.Sprintf("order-%d", f.created),
		UserID:    a.UserID,
		AttemptID: a.ID,
		PaymentID: paymentID,
		Totals:    a.Totals,
	}
	f.byAttempt[a.ID] = o
	if paymentID != "" {
		f.byPayment[paymentID] = o
	}
	return o
}

func (f *fakeOrders) CreateCash(_ context.Context, a checkout.Attempt) (*order.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashCalls++
	if f.cashErr != nil {
		return nil, false, f.cashErr
	}
	if o, ok := f.byAttempt[a.ID]; ok {
		return o, false, nil
	}
	return f.store(a, ""), true, nil
}

func (f *fakeOrders) VerifyAndCreate(_ context.Context, p order.Proof, a checkout.Attempt) (*order.Order, bool, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if o, ok := f.byPayment[p.PaymentID]; ok {
		return o, false, nil
	}
	if f.verifyErr != nil {
		if f.commitOnError {
			f.store(a, p.PaymentID)
		}
		return nil, false, f.verifyErr
	}
	return f.store(a, p.PaymentID), true, nil
}

func (f *fakeOrders) FindByPaymentID(_ context.Context, paymentID string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	o, ok := f.byPayment[paymentID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type countingCarts struct {
	mu      sync.Mutex
	cleared map[string]int
}

func (c *countingCarts) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleared == nil {
		c.cleared = map[string]int{}
	}
	c.cleared[userID]++
	return nil
}

func (c *countingCarts) count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared[userID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// memStore keeps records the way a shared store would: by value, so
// sessions restored from it share nothing with the ones that saved them.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
	err     error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]Record{}}
}

func (m *memStore) Load(_ context.Context, attemptID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[attemptID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &r, nil
}

func (m *memStore) Save(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	if r.Transaction != nil {
		txn := *r.Transaction
		r.Transaction = &txn
	}
	if r.Proof != nil {
		proof := *r.Proof
		r.Proof = &proof
	}
	m.records[r.Attempt.ID] = r
	return nil
}

func (m *memStore) record(attemptID string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[attemptID]
}

type fakePreflight struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakePreflight) Check(context.Context, checkout.Attempt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

// --- Helpers ---

type fixture struct {
	orch      *Orchestrator
	gateway   *fakeGateway
	orders    *fakeOrders
	carts     *countingCarts
	events    *recordingPublisher
	store     *memStore
	preflight *fakePreflight
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gateway:   &fakeGateway{},
		orders:    newFakeOrders(),
		carts:     &countingCarts{},
		events:    &recordingPublisher{},
		store:     newMemStore(),
		preflight: &fakePreflight{},
		now:       time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.orch = f.newOrchestrator(t)
	return f
}

// newOrchestrator builds an orchestrator over the fixture's collaborators.
// A second one plays a restarted process or another replica.
func (f *fixture) newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(f.gateway, f.orders, f.carts, Options{
		Publisher: f.events,
		Store:     f.store,
		Slots:     slot.NewScheduler(slot.Config{}),
		Preflight: f.preflight,
	})
	require.NoError(t, err)
	orch.now = func() time.Time { return f.now }
	return orch
}

func testAttempt(method checkout.PaymentMethod, total string) checkout.Attempt {
	return checkout.Attempt{
		ID:     "attempt-1",
		UserID: "user-1",
		Policy: fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceQuick),
		Method: method,
		Totals: pricing.Totals{
			ItemsSubtotal: decimal.RequireFromString(total),
			TaxableBase:   decimal.RequireFromString(total),
			GrandTotal:    decimal.RequireFromString(total),
		},
	}
}

func success(v View, paymentID string) Callback {
	return Callback{
		Kind:           CallbackSuccess,
		GatewayOrderID: v.Transaction.GatewayOrderID,
		PaymentID:      paymentID,
		Signature:      "sig",
	}
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	pErr, ok := AsError(err)
	require.True(t, ok, "expected *payment.Error, got %v", err)
	require.Equal(t, kind, pErr.Kind)
	return pErr
}

// startOnline starts an online attempt and checks it waits for the customer.
func (f *fixture) startOnline(t *testing.T) (checkout.Attempt, View) {
	t.Helper()
	a := testAttempt(checkout.PaymentOnline, "1260")
	v, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingUserPayment, v.State)
	require.NotNil(t, v.Transaction)
	return a, v
}

// --- Tests ---

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateValidating, true},
		{StateValidating, StateAwaitingCashConfirm, true},
		{StateValidating, StateAwaitingGatewayOrder, true},
		{StateAwaitingCashConfirm, StateSettled, true},
		{StateAwaitingGatewayOrder, StateAwaitingUserPayment, true},
		{StateAwaitingUserPayment, StateAwaitingVerification, true},
		{StateAwaitingUserPayment, StateFailed, true},
		{StateAwaitingVerification, StateSettled, true},
		{StateIdle, StateSettled, false},
		{StateAwaitingGatewayOrder, StateSettled, false},
		{StateAwaitingUserPayment, StateSettled, false},
		{StateSettled, StateFailed, false},
		{StateFailed, StateValidating, false},
		{StateFailed, StateSettled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StateSettled.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateAwaitingVerification.IsTerminal())
}

func TestError_Classification(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
		moneyMay  bool
	}{
		{KindGatewayInitiation, true, false},
		{KindPaymentFailed, true, false},
		{KindPersistence, true, false},
		{KindVerificationFailed, false, true},
		{KindUnconfirmed, false, true},
		{KindInvalidated, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &Error{Kind: tt.kind}
			assert.Equal(t, tt.retryable, e.Retryable())
			assert.Equal(t, tt.moneyMay, e.MoneyMayHaveMoved())
		})
	}
}

func TestStart_Cash(t *testing.T) {
	f := newFixture(t)
	a := testAttempt(checkout.PaymentCOD, "540")

	v, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, v.State)
	assert.Equal(t, "order-1", v.OrderID)
	assert.False(t, v.MoneyMayHaveMoved)
	assert.Zero(t, f.gateway.calls)
	assert.Equal(t, 1, f.carts.count("user-1"))
	assert.Equal(t, []EventType{EventOrderSettled}, f.events.types())

	again, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, v.OrderID, again.OrderID)
	assert.Equal(t, 1, f.orders.cashCalls)
	assert.Equal(t, 1, f.carts.count("user-1"))
}

func TestStart_CashFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.orders.cashErr = errors.New("connection refused")
	a := testAttempt(checkout.PaymentCOD, "540")

	v, err := f.orch.Start(context.Background(), a)
	pErr := requireKind(t, err, KindPersistence)
	assert.True(t, pErr.Retryable())
	assert.Equal(t, "attempt-1", pErr.AttemptID)
	assert.Equal(t, StateFailed, v.State)
	assert.Zero(t, f.carts.count("user-1"))

	f.orders.cashErr = nil
	v, err = f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, v.State)
	assert.Equal(t, 1, f.carts.count("user-1"))
}

func TestStart_ZeroValueOnlineSkipsGateway(t *testing.T) {
	f := newFixture(t)
	a := testAttempt(checkout.PaymentOnline, "0")

	v, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, v.State)
	assert.Zero(t, f.gateway.calls)
}

func TestStart_Online(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)

	assert.Equal(t, 1, f.gateway.calls)
	assert.Equal(t, int64(126000), f.gateway.last.AmountMinorUnits)
	assert.Equal(t, "INR", f.gateway.last.Currency)
	assert.Equal(t, "attempt-1", f.gateway.last.Receipt)
	assert.Equal(t, "gw_1", v.Transaction.GatewayOrderID)
	assert.False(t, v.MoneyMayHaveMoved)

	// Paying again while the customer is in the gateway UI reuses the
	// transaction.
	again, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	require.NoError(t, err)
	assert.Equal(t, v.Transaction.GatewayOrderID, again.Transaction.GatewayOrderID)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestStart_GatewayFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(g *fakeGateway)
	}{
		{
			name:  "gateway rejects",
			setup: func(g *fakeGateway) { g.err = errors.New("bad request") },
		},
		{
			name: "echoed amount differs",
			setup: func(g *fakeGateway) {
				g.echo = func(req GatewayOrderRequest) GatewayTransaction {
					return GatewayTransaction{GatewayOrderID: "gw_x", AmountMinorUnits: req.AmountMinorUnits + 1, Currency: req.Currency}
				}
			},
		},
		{
			name: "echoed currency differs",
			setup: func(g *fakeGateway) {
				g.echo = func(req GatewayOrderRequest) GatewayTransaction {
					return GatewayTransaction{GatewayOrderID: "gw_x", AmountMinorUnits: req.AmountMinorUnits, Currency: "USD"}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.gateway)

			v, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
			pErr := requireKind(t, err, KindGatewayInitiation)
			assert.True(t, pErr.Retryable())
			assert.False(t, pErr.MoneyMayHaveMoved())
			assert.Equal(t, StateFailed, v.State)
			assert.Nil(t, v.Transaction)
			assert.Zero(t, f.orders.verifyCalls)
		})
	}
}

func TestResolve_Success(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, "order-1", out.OrderID)
	require.NotNil(t, out.Order)
	assert.Equal(t, "pay_1", out.Order.PaymentID)

	status, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, status.State)
	assert.Equal(t, "pay_1", status.PaymentID)
	assert.False(t, status.MoneyMayHaveMoved)
	assert.Equal(t, 1, f.carts.count("user-1"))
}

func TestResolve_DuplicateSuccess(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)
	cb := success(v, "pay_1")

	first, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
	require.NoError(t, err)
	second, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.orders.created)
	assert.Equal(t, 1, f.carts.count("user-1"), "cart cleared once")
	assert.Equal(t, []EventType{EventOrderSettled}, f.events.types())
}

func TestResolve_ConcurrentDuplicateSuccess(t *testing.T) {
	f := newFixture(t)
	f.orders.delay = 20 * time.Millisecond
	_, v := f.startOnline(t)
	cb := success(v, "pay_1")

	const n = 10
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
			ids[i], errs[i] = out.OrderID, err
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "order-1", ids[i])
	}
	assert.Equal(t, 1, f.orders.created)
	assert.Equal(t, 1, f.carts.count("user-1"))
}

func TestResolve_Failure(t *testing.T) {
	f := newFixture(t)
	f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", Callback{
		Kind:      CallbackFailure,
		PaymentID: "pay_1",
		Reason:    "card declined",
	})
	pErr := requireKind(t, err, KindPaymentFailed)
	assert.Equal(t, "card declined", pErr.Reason)
	assert.Equal(t, "gw_1", pErr.GatewayOrderID)
	assert.True(t, pErr.Retryable())
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []EventType{EventPaymentFailed}, f.events.types())

	// A new payment can be started for the same attempt.
	v, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingUserPayment, v.State)
	assert.Equal(t, "gw_2", v.Transaction.GatewayOrderID)
}

func TestResolve_Dismiss(t *testing.T) {
	f := newFixture(t)
	f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", Callback{Kind: CallbackDismiss})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.True(t, out.Cancelled)
	assert.Empty(t, out.OrderID)

	v, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.True(t, v.Cancelled)
	assert.Nil(t, v.Failure)
	assert.True(t, v.MoneyMayHaveMoved, "gateway may have charged before the dismiss")
	assert.Zero(t, f.carts.count("user-1"))
	assert.Empty(t, f.events.types())
}

func TestResolve_LoadFailed(t *testing.T) {
	f := newFixture(t)
	f.startOnline(t)

	_, err := f.orch.Resolve(context.Background(), "attempt-1", Callback{Kind: CallbackLoadFailed})
	pErr := requireKind(t, err, KindGatewayInitiation)
	assert.False(t, pErr.MoneyMayHaveMoved())
}

func TestResolve_VerificationRejected(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = order.ErrSignatureMismatch
	_, v := f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	pErr := requireKind(t, err, KindVerificationFailed)
	require.ErrorIs(t, err, order.ErrSignatureMismatch)
	assert.True(t, pErr.MoneyMayHaveMoved())
	assert.False(t, pErr.Retryable())
	assert.Equal(t, "pay_1", pErr.PaymentID)
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, f.carts.count("user-1"))
	assert.Equal(t, []EventType{EventVerificationFailed}, f.events.types())

	// Not retryable: starting again returns the failure.
	_, err = f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	requireKind(t, err, KindVerificationFailed)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestResolve_AmbiguousFailureFindsOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = errors.New("i/o timeout")
	f.orders.commitOnError = true
	_, v := f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, "order-1", out.OrderID)
	assert.Equal(t, 1, f.carts.count("user-1"))
}

func TestResolve_UnconfirmedThenReconcile(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = errors.New("i/o timeout")
	_, v := f.startOnline(t)

	out, err := f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	pErr := requireKind(t, err, KindUnconfirmed)
	assert.True(t, pErr.MoneyMayHaveMoved())
	assert.Equal(t, StateAwaitingVerification, out.State)

	status, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingVerification, status.State)
	assert.True(t, status.MoneyMayHaveMoved)
	assert.Equal(t, []EventType{EventPaymentUnconfirmed}, f.events.types())

	f.orders.verifyErr = nil
	out, err = f.orch.Reconcile(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, 1, f.orders.created)
	assert.Equal(t, 1, f.carts.count("user-1"))

	// Reconciling a settled attempt is a no-op.
	again, err := f.orch.Reconcile(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, out.OrderID, again.OrderID)
}

func TestResolve_RetriedCallbackQueriesFirst(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = errors.New("i/o timeout")
	_, v := f.startOnline(t)
	cb := success(v, "pay_1")

	_, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
	requireKind(t, err, KindUnconfirmed)
	calls := f.orders.verifyCalls

	// The order landed after all; the retried callback finds it.
	f.orders.mu.Lock()
	f.orders.store(testAttempt(checkout.PaymentOnline, "1260"), "pay_1")
	f.orders.mu.Unlock()

	out, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, calls, f.orders.verifyCalls, "no blind re-creation")
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)

	require.NoError(t, f.orch.Invalidate(context.Background(), "attempt-1"))

	status, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	require.NotNil(t, status.Failure)
	assert.Equal(t, KindInvalidated, status.Failure.Kind)

	// The customer paid anyway.
	_, err = f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	pErr := requireKind(t, err, KindVerificationFailed)
	assert.True(t, pErr.MoneyMayHaveMoved())
	assert.Zero(t, f.orders.verifyCalls)
	assert.Contains(t, f.events.types(), EventVerificationFailed)

	_, err = f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	require.ErrorIs(t, err, ErrAttemptInvalidated)
}

func TestInvalidate_SettledIsKept(t *testing.T) {
	f := newFixture(t)
	v, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentCOD, "540"))
	require.NoError(t, err)

	require.NoError(t, f.orch.Invalidate(context.Background(), "attempt-1"))

	status, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, status.State)
	assert.Equal(t, v.OrderID, status.OrderID)
}

func TestResolve_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Resolve(context.Background(), "missing", Callback{Kind: CallbackDismiss})
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, v := f.startOnline(t)

	_, err = f.orch.Resolve(context.Background(), "attempt-1", Callback{Kind: "refund"})
	require.ErrorIs(t, err, ErrUnknownCallback)

	_, err = f.orch.Resolve(context.Background(), "attempt-1", Callback{Kind: CallbackSuccess})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.orch.Reconcile(context.Background(), "attempt-1")
	require.ErrorIs(t, err, ErrInvalidState)

	cb := success(v, "pay_1")
	cb.GatewayOrderID = "gw_other"
	out, err := f.orch.Resolve(context.Background(), "attempt-1", cb)
	requireKind(t, err, KindVerificationFailed)
	assert.Equal(t, StateAwaitingUserPayment, out.State, "session untouched")
}

func TestSession_Await(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)

	s, err := f.orch.Session(context.Background(), "attempt-1")
	require.NoError(t, err)

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.Await(context.Background())
		done <- result{out, err}
	}()

	_, err = f.orch.Resolve(context.Background(), "attempt-1", success(v, "pay_1"))
	require.NoError(t, err)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, StateSettled, r.out.State)
		assert.Equal(t, "order-1", r.out.OrderID)
	case <-time.After(time.Second):
		t.Fatal("Await did not return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := newSession(testAttempt(checkout.PaymentOnline, "10"), f.now)
	_, err = pending.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	orch, err := NewOrchestrator(f.gateway, f.orders, f.carts, Options{Publisher: f.events})
	require.NoError(t, err)
	orch.now = func() time.Time { return f.now }
	f.orch = orch
	f.startOnline(t)

	other := testAttempt(checkout.PaymentOnline, "100")
	other.ID = "attempt-2"
	f.orders.verifyErr = errors.New("i/o timeout")
	v, err := f.orch.Start(context.Background(), other)
	require.NoError(t, err)
	_, err = f.orch.Resolve(context.Background(), "attempt-2", success(v, "pay_2"))
	requireKind(t, err, KindUnconfirmed)

	require.NoError(t, f.orch.Invalidate(context.Background(), "attempt-3"))

	assert.Zero(t, f.orch.Sweep(time.Hour))

	f.now = f.now.Add(2 * time.Hour)
	assert.Equal(t, 1, f.orch.Sweep(time.Hour))

	_, err = f.orch.Status(context.Background(), "attempt-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.orch.Status(context.Background(), "attempt-2")
	require.NoError(t, err, "sessions awaiting reconciliation are kept")

	_, err = f.orch.Start(context.Background(), func() checkout.Attempt {
		a := testAttempt(checkout.PaymentCOD, "10")
		a.ID = "attempt-3"
		return a
	}())
	require.NoError(t, err, "invalidation marks expire")
}

func TestStart_SlotRecheckedBeforePayment(t *testing.T) {
	// The fixture clock reads 2025-03-10 12:00 UTC with a 30 minute buffer.
	tests := []struct {
		name   string
		method checkout.PaymentMethod
		total  string
		slot   *slot.Selection
	}{
		{name: "cash for a past date", method: checkout.PaymentCOD, total: "540",
			slot: &slot.Selection{Date: "2020-01-01", Window: "10:00-12:00"}},
		{name: "online for a started window", method: checkout.PaymentOnline, total: "1260",
			slot: &slot.Selection{Date: "2025-03-10", Window: "12:00-14:00"}},
		{name: "online beyond the horizon", method: checkout.PaymentOnline, total: "1260",
			slot: &slot.Selection{Date: "2025-03-20", Window: "10:00-12:00"}},
		{name: "slot missing", method: checkout.PaymentCOD, total: "540"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := testAttempt(tt.method, tt.total)
			a.Policy = fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceScheduled)
			a.Slot = tt.slot

			_, err := f.orch.Start(context.Background(), a)
			vErr, ok := checkout.AsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, checkout.CodeSlotInvalid, vErr.Code)

			assert.Zero(t, f.orders.cashCalls)
			assert.Zero(t, f.gateway.calls)
			assert.Zero(t, f.carts.count("user-1"))
			_, err = f.orch.Status(context.Background(), "attempt-1")
			require.ErrorIs(t, err, ErrSessionNotFound, "no session is left behind")
		})
	}
}

func TestStart_OpenSlotSettles(t *testing.T) {
	f := newFixture(t)
	a := testAttempt(checkout.PaymentCOD, "540")
	a.Policy = fulfillment.HomeDelivery("addr-1", fulfillment.PreferenceScheduled)
	a.Slot = &slot.Selection{Date: "2025-03-10", Window: "14:00-16:00"}

	v, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, v.State)

	// Once settled, the attempt is not re-checked when the window passes.
	f.now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	again, err := f.orch.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, v.OrderID, again.OrderID)
}

func TestStart_PreflightRejects(t *testing.T) {
	f := newFixture(t)
	f.preflight.err = checkout.ErrAttemptStale

	_, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	require.ErrorIs(t, err, checkout.ErrAttemptStale)
	assert.Zero(t, f.gateway.calls)
	_, err = f.orch.Status(context.Background(), "attempt-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStart_PreflightOnlyForNewSessions(t *testing.T) {
	f := newFixture(t)
	f.startOnline(t)
	require.Equal(t, 1, f.preflight.calls)

	// The cart may already be cleared by the time the client asks again.
	f.preflight.err = checkout.ErrAttemptStale
	v, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingUserPayment, v.State)
	assert.Equal(t, 1, f.preflight.calls)
}

func TestStart_InvalidatedWhileValidating(t *testing.T) {
	tests := []struct {
		name   string
		method checkout.PaymentMethod
		total  string
	}{
		{name: "cash", method: checkout.PaymentCOD, total: "540"},
		{name: "online", method: checkout.PaymentOnline, total: "1260"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := testAttempt(tt.method, tt.total)

			s, _, err := f.orch.open(ctx, a)
			require.NoError(t, err)
			require.NoError(t, f.orch.Invalidate(ctx, a.ID))

			var v View
			if a.IsImmediate() {
				v, err = f.orch.payCash(ctx, s)
			} else {
				v, err = f.orch.openGatewayOrder(ctx, s)
			}
			require.ErrorIs(t, err, ErrAttemptInvalidated)
			assert.NotErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, StateFailed, v.State)
			assert.Zero(t, f.orders.cashCalls)
			assert.Zero(t, f.gateway.calls)
		})
	}
}

func TestRestart_ReusesGatewayOrder(t *testing.T) {
	f := newFixture(t)
	a, v := f.startOnline(t)

	rec := f.store.record(a.ID)
	assert.Equal(t, StateAwaitingUserPayment, rec.State)
	require.NotNil(t, rec.Transaction)

	restarted := f.newOrchestrator(t)
	again, err := restarted.Start(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingUserPayment, again.State)
	assert.Equal(t, v.Transaction.GatewayOrderID, again.Transaction.GatewayOrderID)
	assert.Equal(t, 1, f.gateway.calls, "no second gateway order")

	out, err := restarted.Resolve(context.Background(), a.ID, success(v, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, "order-1", out.OrderID)
	assert.Equal(t, 1, f.orders.created)
	assert.Equal(t, StateSettled, f.store.record(a.ID).State)
}

func TestRestart_CallbackWithoutPriorStart(t *testing.T) {
	f := newFixture(t)
	a, v := f.startOnline(t)

	// The callback reaches a replica that never saw the attempt.
	other := f.newOrchestrator(t)
	out, err := other.Resolve(context.Background(), a.ID, success(v, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)

	status, err := f.newOrchestrator(t).Status(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, status.State)
	assert.Equal(t, "order-1", status.OrderID)
	assert.Equal(t, "pay_1", status.PaymentID)
}

func TestRestart_ReconcileUnconfirmed(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = errors.New("i/o timeout")
	a, v := f.startOnline(t)

	_, err := f.orch.Resolve(context.Background(), a.ID, success(v, "pay_1"))
	requireKind(t, err, KindUnconfirmed)
	assert.Equal(t, StateAwaitingVerification, f.store.record(a.ID).State)

	f.orders.verifyErr = nil
	out, err := f.newOrchestrator(t).Reconcile(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSettled, out.State)
	assert.Equal(t, 1, f.orders.created)
}

func TestRestart_FailuresSurvive(t *testing.T) {
	f := newFixture(t)
	f.orders.verifyErr = order.ErrSignatureMismatch
	a, v := f.startOnline(t)

	_, err := f.orch.Resolve(context.Background(), a.ID, success(v, "pay_1"))
	requireKind(t, err, KindVerificationFailed)

	_, err = f.newOrchestrator(t).Start(context.Background(), a)
	pErr := requireKind(t, err, KindVerificationFailed)
	assert.Equal(t, "pay_1", pErr.PaymentID)
	assert.Equal(t, 1, f.gateway.calls, "not retried after a restart")
}

func TestRestart_InvalidationSurvives(t *testing.T) {
	f := newFixture(t)
	a := testAttempt(checkout.PaymentOnline, "1260")

	// Superseded before payment ever started.
	require.NoError(t, f.orch.Invalidate(context.Background(), a.ID))
	assert.True(t, f.store.record(a.ID).Invalidated)

	_, err := f.newOrchestrator(t).Start(context.Background(), a)
	require.ErrorIs(t, err, ErrAttemptInvalidated)
	assert.Zero(t, f.gateway.calls)
}

func TestRestart_InvalidateRestoredSession(t *testing.T) {
	f := newFixture(t)
	a, _ := f.startOnline(t)

	other := f.newOrchestrator(t)
	require.NoError(t, other.Invalidate(context.Background(), a.ID))

	rec := f.store.record(a.ID)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, KindInvalidated, rec.FailureKind)
	assert.True(t, rec.Invalidated)
}

func TestStart_UnrecordedTransactionNotHandedOut(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("redis: connection refused")

	v, err := f.orch.Start(context.Background(), testAttempt(checkout.PaymentOnline, "1260"))
	pErr := requireKind(t, err, KindGatewayInitiation)
	assert.True(t, pErr.Retryable())
	assert.Equal(t, StateFailed, v.State)
}

func TestSweep_StoredSessionsComeBack(t *testing.T) {
	f := newFixture(t)
	_, v := f.startOnline(t)

	f.now = f.now.Add(2 * time.Hour)
	require.Equal(t, 1, f.orch.Sweep(time.Hour))

	status, err := f.orch.Status(context.Background(), "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingUserPayment, status.State)
	assert.Equal(t, v.Transaction.GatewayOrderID, status.Transaction.GatewayOrderID)
}

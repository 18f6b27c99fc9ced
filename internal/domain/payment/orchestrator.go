// Package payment drives a checkout attempt from submission to a settled
// order. Each attempt gets one Session, an explicit state machine that
// resolves exactly once; gateway callbacks move it forward.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Options configures an Orchestrator.
type Options struct {
	// Currency of gateway transactions. Defaults to INR.
	Currency  string
	Meter     metric.Meter
	Publisher Publisher
	// Store keeps sessions across restarts. Without it sessions live only in
	// this process.
	Store Store
	// Slots re-checks booked slots before a payment starts.
	Slots SlotValidator
	// Preflight re-checks the attempt against its live inputs before a
	// payment starts.
	Preflight Preflight
}

// Orchestrator owns the payment sessions of all in-flight attempts.
type Orchestrator struct {
	gateway  Gateway
	orders   OrderStore
	carts    CartClearer
	events   Publisher
	store    Store
	slots    SlotValidator
	checks   Preflight
	currency string

	mu          sync.Mutex
	sessions    map[string]*Session
	invalidated map[string]time.Time

	// Collapses concurrent deliveries of the same payment.
	flights singleflight.Group

	settledCount metric.Int64Counter
	failedCount  metric.Int64Counter

	now func() time.Time
}

var _ checkout.Invalidator = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(gateway Gateway, orders OrderStore, carts CartClearer, opts Options) (*Orchestrator, error) {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("checkout")
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Store == nil {
		opts.Store = nopStore{}
	}

	settled, err := opts.Meter.Int64Counter("checkout.payment.settled",
		metric.WithDescription("Orders settled by checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create settled counter")
	}
	failed, err := opts.Meter.Int64Counter("checkout.payment.failed",
		metric.WithDescription("Failed checkout payments by kind"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}

	return &Orchestrator{
		gateway:      gateway,
		orders:       orders,
		carts:        carts,
		events:       opts.Publisher,
		store:        opts.Store,
		slots:        opts.Slots,
		checks:       opts.Preflight,
		currency:     opts.Currency,
		sessions:     make(map[string]*Session),
		invalidated:  make(map[string]time.Time),
		settledCount: settled,
		failedCount:  failed,
		now:          time.Now,
	}, nil
}

// Start begins paying for a. Cash and zero-value attempts settle before
// Start returns; online attempts stop in AwaitingUserPayment with the
// gateway transaction in the view.
//
// Starting a settled or in-progress attempt returns its current view, also
// when the session was started by another process. A failed attempt starts
// over when its failure is retryable. Before a new session opens, the booked
// slot and the attempt's inputs are checked again; a rejection leaves no
// session behind.
func (o *Orchestrator) Start(ctx context.Context, a checkout.Attempt) (View, error) {
	v, done, err := o.resume(ctx, a.ID)
	if done {
		return v, err
	}
	if err := o.precheck(ctx, a); err != nil {
		return View{}, err
	}

	s, v, err := o.open(ctx, a)
	if s == nil {
		return v, err
	}
	if a.IsImmediate() {
		return o.payCash(ctx, s)
	}
	return o.openGatewayOrder(ctx, s)
}

// resume reports done when the attempt already has a session that must not
// be restarted, together with that session's result.
func (o *Orchestrator) resume(ctx context.Context, attemptID string) (View, bool, error) {
	s, err := o.lookup(ctx, attemptID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return View{}, true, err
	}

	o.mu.Lock()
	_, invalidated := o.invalidated[attemptID]
	o.mu.Unlock()
	if invalidated {
		return View{}, true, ErrAttemptInvalidated
	}
	if s == nil {
		return View{}, false, nil
	}

	s.mu.Lock()
	v, restart := s.viewLocked(), s.restartableLocked()
	s.mu.Unlock()
	if restart {
		return View{}, false, nil
	}
	if v.Failure != nil {
		return v, true, v.Failure
	}
	return v, true, nil
}

// precheck rejects an attempt whose slot has passed or whose inputs changed
// since it was assembled.
func (o *Orchestrator) precheck(ctx context.Context, a checkout.Attempt) error {
	if o.slots != nil && a.Policy.RequiresSlot() {
		var err error
		if a.Slot == nil {
			err = errors.New("no slot selected")
		} else {
			err = o.slots.Validate(*a.Slot, o.now())
		}
		if err != nil {
			return &checkout.ValidationError{
				Code:    checkout.CodeSlotInvalid,
				Field:   "slot",
				Message: "the selected time slot is no longer available: " + err.Error(),
			}
		}
	}
	if o.checks != nil {
		if err := o.checks.Check(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) open(ctx context.Context, a checkout.Attempt) (*Session, View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.invalidated[a.ID]; ok {
		return nil, View{}, ErrAttemptInvalidated
	}

	if prev, ok := o.sessions[a.ID]; ok {
		prev.mu.Lock()
		v, restart := prev.viewLocked(), prev.restartableLocked()
		prev.mu.Unlock()

		if !restart {
			if v.Failure != nil {
				return nil, v, v.Failure
			}
			return nil, v, nil
		}
	}

	s := newSession(a, o.now())
	if err := s.advanceLocked(StateValidating, o.now()); err != nil {
		return nil, View{}, err
	}
	o.sessions[a.ID] = s

	zctx.From(ctx).Debug("Payment session opened",
		zap.String("attempt_id", a.ID),
		zap.String("method", string(a.Method)),
	)
	return s, View{}, nil
}

func (o *Orchestrator) payCash(ctx context.Context, s *Session) (View, error) {
	if err := o.advance(ctx, s, StateAwaitingCashConfirm); err != nil {
		return s.View(), err
	}

	ord, created, err := o.orders.CreateCash(ctx, s.attempt)
	if err != nil {
		_, ferr := o.fail(ctx, s, &Error{
			Kind:   KindPersistence,
			Reason: "could not place order",
			Err:    err,
		})
		return s.View(), ferr
	}

	if _, err := o.settle(ctx, s, ord, created); err != nil {
		return s.View(), err
	}
	return s.View(), nil
}

func (o *Orchestrator) openGatewayOrder(ctx context.Context, s *Session) (View, error) {
	if err := o.advance(ctx, s, StateAwaitingGatewayOrder); err != nil {
		return s.View(), err
	}

	a := s.attempt
	req := GatewayOrderRequest{
		AmountMinorUnits: a.Totals.AmountMinorUnits(),
		Currency:         o.currency,
		Receipt:          a.ID,
		Notes:            map[string]string{"user_id": a.UserID},
	}
	txn, err := o.gateway.CreateOrder(ctx, req)
	if err != nil {
		_, ferr := o.fail(ctx, s, &Error{
			Kind:   KindGatewayInitiation,
			Reason: "gateway rejected order creation",
			Err:    err,
		})
		return s.View(), ferr
	}
	if txn.AmountMinorUnits != req.AmountMinorUnits || txn.Currency != req.Currency {
		_, ferr := o.fail(ctx, s, &Error{
			Kind:           KindGatewayInitiation,
			GatewayOrderID: txn.GatewayOrderID,
			Reason: fmt.Sprintf("gateway echoed %d %s, requested %d %s",
				txn.AmountMinorUnits, txn.Currency, req.AmountMinorUnits, req.Currency),
		})
		return s.View(), ferr
	}

	s.mu.Lock()
	err = s.advanceLocked(StateAwaitingUserPayment, o.now())
	if err == nil {
		s.txn = &txn
	}
	invalidated := s.invalidated
	v := s.viewLocked()
	s.mu.Unlock()

	if err != nil {
		if invalidated {
			return v, ErrAttemptInvalidated
		}
		return v, err
	}

	// The transaction is handed out only once it is recorded.
	if err := o.persist(ctx, s); err != nil {
		_, ferr := o.fail(ctx, s, &Error{
			Kind:   KindGatewayInitiation,
			Reason: "could not record gateway order",
			Err:    err,
		})
		return s.View(), ferr
	}

	zctx.From(ctx).Debug("Awaiting user payment",
		zap.String("attempt_id", a.ID),
		zap.String("gateway_order_id", txn.GatewayOrderID),
		zap.Int64("amount_minor_units", txn.AmountMinorUnits),
	)
	return v, nil
}

// Resolve delivers a gateway callback to the attempt's session.
//
// A success callback is verified and persisted. Repeated deliveries of the
// same payment return the first outcome and never create a second order.
// A dismiss resolves the session as cancelled with a nil error.
func (o *Orchestrator) Resolve(ctx context.Context, attemptID string, cb Callback) (Outcome, error) {
	s, err := o.lookup(ctx, attemptID)
	if err != nil {
		return Outcome{}, err
	}

	switch cb.Kind {
	case CallbackSuccess:
		if cb.PaymentID == "" {
			return Outcome{}, errors.Wrap(ErrInvalidState, "success callback without payment id")
		}
		return o.flight(ctx, s, cb.PaymentID, func(ctx context.Context) (Outcome, error) {
			return o.verify(ctx, s, cb)
		})
	case CallbackFailure:
		reason := cb.Reason
		if reason == "" {
			reason = "payment declined"
		}
		return o.resolveFailure(ctx, s, &Error{
			Kind:      KindPaymentFailed,
			PaymentID: cb.PaymentID,
			Reason:    reason,
		})
	case CallbackLoadFailed:
		reason := cb.Reason
		if reason == "" {
			reason = "gateway checkout failed to load"
		}
		return o.resolveFailure(ctx, s, &Error{Kind: KindGatewayInitiation, Reason: reason})
	case CallbackDismiss:
		return o.resolveFailure(ctx, s, nil)
	default:
		return Outcome{}, errors.Wrapf(ErrUnknownCallback, "%q", cb.Kind)
	}
}

// Reconcile re-checks an attempt stuck in AwaitingVerification. It looks for
// an order created for the payment before trying to create one again.
func (o *Orchestrator) Reconcile(ctx context.Context, attemptID string) (Outcome, error) {
	s, err := o.lookup(ctx, attemptID)
	if err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	if s.state.IsTerminal() {
		defer s.mu.Unlock()
		return s.resultLocked()
	}
	state, proof := s.state, s.proof
	s.mu.Unlock()

	if state != StateAwaitingVerification || proof == nil {
		return Outcome{State: state}, errors.Wrapf(ErrInvalidState, "nothing to reconcile in state %s", state)
	}
	return o.flight(ctx, s, proof.PaymentID, func(ctx context.Context) (Outcome, error) {
		return o.confirm(ctx, s, *proof, true)
	})
}

// Invalidate stops honoring payments for the attempt. A session waiting for
// the customer fails with KindInvalidated; a session already writing the
// order is left to finish. Starting the attempt again is refused, also by
// other processes sharing the store.
func (o *Orchestrator) Invalidate(ctx context.Context, attemptID string) error {
	o.mu.Lock()
	o.invalidated[attemptID] = o.now()
	s := o.sessions[attemptID]
	o.mu.Unlock()

	if s == nil {
		var err error
		s, err = o.lookup(ctx, attemptID)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			rec := Record{
				Attempt:     checkout.Attempt{ID: attemptID},
				Invalidated: true,
				UpdatedAt:   o.now(),
			}
			if err := o.store.Save(ctx, rec); err != nil {
				return errors.Wrapf(err, "record invalidation of %s", attemptID)
			}
			return nil
		case err != nil:
			return err
		}
	}

	e := &Error{Kind: KindInvalidated, Reason: "checkout attempt was superseded"}
	s.mu.Lock()
	s.invalidated = true
	failed := false
	if s.state.interruptible() {
		failed = s.failLocked(e, o.now()) == nil
	}
	s.mu.Unlock()

	if failed {
		o.failedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind))))
		zctx.From(ctx).Info("Payment session invalidated", zap.String("attempt_id", attemptID))
	}
	return o.persist(ctx, s)
}

// Session returns the attempt's session. A session started by another
// process is restored from the store.
func (o *Orchestrator) Session(ctx context.Context, attemptID string) (*Session, error) {
	return o.lookup(ctx, attemptID)
}

// Status returns a snapshot of the attempt's session.
func (o *Orchestrator) Status(ctx context.Context, attemptID string) (View, error) {
	s, err := o.lookup(ctx, attemptID)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// lookup returns the attempt's session, restoring it from the store when
// this process has not seen it.
func (o *Orchestrator) lookup(ctx context.Context, attemptID string) (*Session, error) {
	o.mu.Lock()
	s, ok := o.sessions[attemptID]
	o.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := o.store.Load(ctx, attemptID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "load session %s", attemptID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if rec.Invalidated {
		if _, ok := o.invalidated[attemptID]; !ok {
			o.invalidated[attemptID] = rec.UpdatedAt
		}
	}
	if s, ok := o.sessions[attemptID]; ok {
		return s, nil
	}
	if rec.State == "" {
		return nil, ErrSessionNotFound
	}
	s = restoreSession(*rec)
	o.sessions[attemptID] = s

	zctx.From(ctx).Debug("Payment session restored",
		zap.String("attempt_id", attemptID),
		zap.String("state", string(rec.State)),
	)
	return s, nil
}

// persist saves the session to the store. Errors are logged and returned;
// the in-memory session stays authoritative for this process.
func (o *Orchestrator) persist(ctx context.Context, s *Session) error {
	s.mu.Lock()
	rec := s.recordLocked()
	s.mu.Unlock()

	if err := o.store.Save(ctx, rec); err != nil {
		zctx.From(ctx).Warn("Persist payment session",
			zap.String("attempt_id", rec.Attempt.ID),
			zap.String("state", string(rec.State)),
			zap.Error(err),
		)
		return errors.Wrapf(err, "persist session %s", rec.Attempt.ID)
	}
	return nil
}

// Sweep forgets sessions and invalidation marks untouched for olderThan.
// Sessions that may be writing an order, or that await reconciliation, are
// kept. It returns the number of sessions removed.
func (o *Orchestrator) Sweep(olderThan time.Duration) int {
	cutoff := o.now().Add(-olderThan)

	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	for id, s := range o.sessions {
		s.mu.Lock()
		stale := s.updatedAt.Before(cutoff) &&
			s.state != StateAwaitingCashConfirm &&
			s.state != StateAwaitingVerification
		s.mu.Unlock()
		if stale {
			delete(o.sessions, id)
			removed++
		}
	}
	for id, at := range o.invalidated {
		if at.Before(cutoff) {
			delete(o.invalidated, id)
		}
	}
	return removed
}

// flight runs fn once per attempt and payment among concurrent callers. The
// work is detached from the caller's cancellation: once a payment is being
// written, a client disconnect must not abandon it halfway.
func (o *Orchestrator) flight(
	ctx context.Context,
	s *Session,
	paymentID string,
	fn func(ctx context.Context) (Outcome, error),
) (Outcome, error) {
	key := s.attempt.ID + "|" + paymentID
	v, err, _ := o.flights.Do(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	out, _ := v.(Outcome)
	return out, err
}

func (o *Orchestrator) resolveFailure(ctx context.Context, s *Session, e *Error) (Outcome, error) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		defer s.mu.Unlock()
		return s.resultLocked()
	}
	if s.state != StateAwaitingUserPayment {
		state := s.state
		s.mu.Unlock()
		return Outcome{State: state}, errors.Wrapf(ErrInvalidState, "callback in state %s", state)
	}
	err := s.failLocked(e, o.now())
	out, ferr := s.resultLocked()
	s.mu.Unlock()

	if err != nil {
		return out, err
	}
	_ = o.persist(ctx, s)
	if e == nil {
		zctx.From(ctx).Info("Payment cancelled by customer", zap.String("attempt_id", s.attempt.ID))
		return out, nil
	}
	o.report(ctx, s, e)
	return out, ferr
}

func (o *Orchestrator) verify(ctx context.Context, s *Session, cb Callback) (Outcome, error) {
	s.mu.Lock()
	switch s.state {
	case StateAwaitingUserPayment:
		if s.txn == nil || cb.GatewayOrderID != s.txn.GatewayOrderID {
			s.mu.Unlock()
			return o.foreignPayment(ctx, s, cb, "payment is for a different gateway order")
		}
		proof := order.Proof{
			GatewayOrderID:   cb.GatewayOrderID,
			PaymentID:        cb.PaymentID,
			Signature:        cb.Signature,
			AmountMinorUnits: s.txn.AmountMinorUnits,
		}
		if err := s.advanceLocked(StateAwaitingVerification, o.now()); err != nil {
			s.mu.Unlock()
			return Outcome{}, err
		}
		s.proof = &proof
		s.mu.Unlock()
		_ = o.persist(ctx, s)
		return o.confirm(ctx, s, proof, false)

	case StateAwaitingVerification:
		proof := *s.proof
		s.mu.Unlock()
		if proof.PaymentID != cb.PaymentID {
			return o.foreignPayment(ctx, s, cb, "another payment is being verified for this attempt")
		}
		return o.confirm(ctx, s, proof, true)

	case StateSettled, StateFailed:
		if s.proof != nil && s.proof.PaymentID == cb.PaymentID {
			defer s.mu.Unlock()
			return s.resultLocked()
		}
		var reason string
		switch {
		case s.invalidated:
			reason = "payment arrived for an invalidated attempt"
		case s.cancelled:
			reason = "payment arrived after checkout was dismissed"
		case s.state == StateSettled:
			reason = "attempt already settled by another payment"
		default:
			reason = "payment arrived for a failed attempt"
		}
		s.mu.Unlock()
		return o.foreignPayment(ctx, s, cb, reason)

	default:
		state := s.state
		s.mu.Unlock()
		return Outcome{State: state}, errors.Wrapf(ErrInvalidState, "success callback in state %s", state)
	}
}

// confirm asks persistence to create the order for proof. With queryFirst it
// looks for an existing order before writing.
func (o *Orchestrator) confirm(ctx context.Context, s *Session, proof order.Proof, queryFirst bool) (Outcome, error) {
	if queryFirst {
		ord, err := o.orders.FindByPaymentID(ctx, proof.PaymentID)
		switch {
		case err == nil:
			return o.settleFound(ctx, s, ord)
		case !errors.Is(err, order.ErrNotFound):
			return o.unconfirmed(ctx, s, err)
		}
	}

	ord, created, err := o.orders.VerifyAndCreate(ctx, proof, s.attempt)
	switch {
	case err == nil:
		return o.settle(ctx, s, ord, created)
	case order.IsRejection(err):
		return o.fail(ctx, s, &Error{
			Kind:   KindVerificationFailed,
			Reason: "payment could not be verified",
			Err:    err,
		})
	}

	// The write may have committed before the error reached us.
	ord, qerr := o.orders.FindByPaymentID(ctx, proof.PaymentID)
	if qerr == nil {
		return o.settleFound(ctx, s, ord)
	}
	return o.unconfirmed(ctx, s, err)
}

func (o *Orchestrator) settleFound(ctx context.Context, s *Session, ord *order.Order) (Outcome, error) {
	if ord.AttemptID != s.attempt.ID {
		return o.fail(ctx, s, &Error{
			Kind:   KindVerificationFailed,
			Reason: "payment settled a different attempt",
			Err:    order.ErrPaymentReused,
		})
	}
	return o.settle(ctx, s, ord, false)
}

// settle resolves the session with ord. The cart is cleared by the session
// that performs the transition, which happens at most once per attempt.
func (o *Orchestrator) settle(ctx context.Context, s *Session, ord *order.Order, created bool) (Outcome, error) {
	s.mu.Lock()
	err := s.advanceLocked(StateSettled, o.now())
	if err == nil {
		s.order = ord
	}
	out, ferr := s.resultLocked()
	s.mu.Unlock()

	if err != nil {
		if ferr == nil && out.OrderID == ord.ID {
			return out, nil
		}
		return out, err
	}

	_ = o.persist(ctx, s)

	a := s.attempt
	lg := zctx.From(ctx).With(
		zap.String("attempt_id", a.ID),
		zap.String("order_id", ord.ID),
	)
	lg.Info("Order settled",
		zap.String("payment_id", ord.PaymentID),
		zap.Bool("created", created),
	)
	o.settledCount.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(a.Method))))

	if err := o.carts.Clear(ctx, a.UserID); err != nil {
		lg.Warn("Clear cart after checkout", zap.Error(err))
	}

	o.publish(ctx, Event{
		Type:             EventOrderSettled,
		AttemptID:        a.ID,
		UserID:           a.UserID,
		OrderID:          ord.ID,
		GatewayOrderID:   ord.GatewayOrderID,
		PaymentID:        ord.PaymentID,
		AmountMinorUnits: a.Totals.AmountMinorUnits(),
		Currency:         o.currency,
		OccurredAt:       o.now(),
	})
	return out, nil
}

// fail resolves the session with e and reports it.
func (o *Orchestrator) fail(ctx context.Context, s *Session, e *Error) (Outcome, error) {
	s.mu.Lock()
	err := s.failLocked(e, o.now())
	out, _ := s.resultLocked()
	s.mu.Unlock()

	if err != nil {
		return out, err
	}
	_ = o.persist(ctx, s)
	o.report(ctx, s, e)
	return out, e
}

// unconfirmed reports an ambiguous verification. The session stays in
// AwaitingVerification so Reconcile can finish it.
func (o *Orchestrator) unconfirmed(ctx context.Context, s *Session, cause error) (Outcome, error) {
	e := &Error{
		Kind:   KindUnconfirmed,
		Reason: "order creation could not be confirmed",
		Err:    cause,
	}
	s.mu.Lock()
	s.annotate(e)
	s.updatedAt = o.now()
	state := s.state
	s.mu.Unlock()

	o.report(ctx, s, e)
	return Outcome{State: state}, e
}

// foreignPayment reports a success callback the session cannot accept. The
// session is left unchanged.
func (o *Orchestrator) foreignPayment(ctx context.Context, s *Session, cb Callback, reason string) (Outcome, error) {
	e := &Error{
		Kind:           KindVerificationFailed,
		AttemptID:      s.attempt.ID,
		GatewayOrderID: cb.GatewayOrderID,
		PaymentID:      cb.PaymentID,
		Reason:         reason,
	}
	o.report(ctx, s, e)

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return Outcome{State: state}, e
}

// advance moves s to the next state. It returns ErrAttemptInvalidated when
// Invalidate resolved the session first.
func (o *Orchestrator) advance(ctx context.Context, s *Session, to State) error {
	s.mu.Lock()
	from := s.state
	err := s.advanceLocked(to, o.now())
	invalidated := s.invalidated
	s.mu.Unlock()

	if err != nil {
		if invalidated {
			return ErrAttemptInvalidated
		}
		return err
	}
	zctx.From(ctx).Debug("Payment state changed",
		zap.String("attempt_id", s.attempt.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// report counts a failure and logs it. Failures where money may have moved,
// or where the gateway declined a charge, are logged at error level with
// everything needed for manual reconciliation and published as events.
func (o *Orchestrator) report(ctx context.Context, s *Session, e *Error) {
	o.failedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind))))

	a := s.attempt
	lg := zctx.From(ctx).With(
		zap.String("attempt_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.String("gateway_order_id", e.GatewayOrderID),
		zap.String("payment_id", e.PaymentID),
		zap.String("kind", string(e.Kind)),
		zap.String("grand_total", a.Totals.GrandTotal.StringFixed(2)),
		zap.String("discount", a.Totals.DiscountAmount.StringFixed(2)),
		zap.Int64("amount_minor_units", a.Totals.AmountMinorUnits()),
	)

	var typ EventType
	switch e.Kind {
	case KindPaymentFailed:
		typ = EventPaymentFailed
	case KindVerificationFailed:
		typ = EventVerificationFailed
	case KindUnconfirmed:
		typ = EventPaymentUnconfirmed
	default:
		lg.Warn("Payment failed", zap.Error(e))
		return
	}

	lg.Error("Payment needs reconciliation", zap.Error(e))
	o.publish(ctx, Event{
		Type:             typ,
		AttemptID:        a.ID,
		UserID:           a.UserID,
		GatewayOrderID:   e.GatewayOrderID,
		PaymentID:        e.PaymentID,
		AmountMinorUnits: a.Totals.AmountMinorUnits(),
		Currency:         o.currency,
		Reason:           e.Error(),
		OccurredAt:       o.now(),
	})
}

func (o *Orchestrator) publish(ctx context.Context, ev Event) {
	if err := o.events.Publish(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish payment event",
			zap.String("type", string(ev.Type)),
			zap.String("attempt_id", ev.AttemptID),
			zap.Error(err),
		)
	}
}

package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Callback kinds delivered by the gateway UI.
type CallbackKind string

const (
	CallbackSuccess    CallbackKind = "success"
	CallbackFailure    CallbackKind = "failure"
	CallbackDismiss    CallbackKind = "dismiss"
	CallbackLoadFailed CallbackKind = "load_failed"
)

// Callback is the gateway UI's report for an attempt.
type Callback struct {
	Kind           CallbackKind
	GatewayOrderID string
	PaymentID      string
	Signature      string
	Reason         string
}

// Outcome is the resolved result of a session. A cancelled outcome is a
// Failed state without an error.
type Outcome struct {
	State     State
	OrderID   string
	Order     *order.Order
	Cancelled bool
}

// View is a snapshot of a session for status reporting.
type View struct {
	AttemptID   string              `json:"attempt_id"`
	State       State               `json:"state"`
	Transaction *GatewayTransaction `json:"transaction,omitempty"`
	PaymentID   string              `json:"payment_id,omitempty"`
	OrderID     string              `json:"order_id,omitempty"`
	Cancelled   bool                `json:"cancelled,omitempty"`
	Failure     *Error              `json:"-"`
	// MoneyMayHaveMoved is set when the customer may have paid but no order
	// is confirmed. The UI sends them to the order status view.
	MoneyMayHaveMoved bool      `json:"money_may_have_moved"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Session tracks the payment of one attempt. It resolves exactly once, to
// Settled or Failed; Await blocks until then.
type Session struct {
	mu sync.Mutex

	attempt     checkout.Attempt
	state       State
	txn         *GatewayTransaction
	proof       *order.Proof
	order       *order.Order
	cancelled   bool
	invalidated bool
	failure     *Error
	startedAt   time.Time
	updatedAt   time.Time

	done chan struct{}
}

func newSession(a checkout.Attempt, now time.Time) *Session {
	return &Session{
		attempt:   a,
		state:     StateIdle,
		startedAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

// Attempt returns the attempt the session pays for.
func (s *Session) Attempt() checkout.Attempt {
	return s.attempt
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Await blocks until the session is Settled or Failed, or ctx is done.
func (s *Session) Await(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.result()
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		AttemptID: s.attempt.ID,
		State:     s.state,
		Cancelled: s.cancelled,
		Failure:   s.failure,
		UpdatedAt: s.updatedAt,
	}
	if s.txn != nil {
		txn := *s.txn
		v.Transaction = &txn
	}
	if s.proof != nil {
		v.PaymentID = s.proof.PaymentID
	}
	if s.order != nil {
		v.OrderID = s.order.ID
	}
	switch {
	case s.failure != nil && s.failure.MoneyMayHaveMoved():
		v.MoneyMayHaveMoved = true
	case s.state == StateAwaitingVerification:
		v.MoneyMayHaveMoved = true
	case s.cancelled && s.txn != nil:
		// Dismissing the gateway UI does not cancel a charge the gateway
		// may already have taken.
		v.MoneyMayHaveMoved = true
	}
	return v
}

// restartableLocked reports whether a new payment may replace this session:
// it was dismissed, or it failed in a way that charged nothing.
func (s *Session) restartableLocked() bool {
	return s.state == StateFailed &&
		(s.cancelled || (s.failure != nil && s.failure.Retryable()))
}

func (s *Session) result() (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked()
}

func (s *Session) resultLocked() (Outcome, error) {
	out := Outcome{State: s.state, Order: s.order, Cancelled: s.cancelled}
	if s.order != nil {
		out.OrderID = s.order.ID
	}
	if s.failure != nil {
		return out, s.failure
	}
	return out, nil
}

// advanceLocked moves the session to the next state. s.mu must be held.
func (s *Session) advanceLocked(to State, now time.Time) error {
	if !s.state.CanTransitionTo(to) {
		return errors.Wrapf(ErrInvalidState, "%s -> %s", s.state, to)
	}
	s.state = to
	s.updatedAt = now
	if to.IsTerminal() {
		close(s.done)
	}
	return nil
}

// failLocked moves the session to Failed with the given error. A nil error
// records a cancellation.
func (s *Session) failLocked(fail *Error, now time.Time) error {
	if err := s.advanceLocked(StateFailed, now); err != nil {
		return err
	}
	if fail == nil {
		s.cancelled = true
		return nil
	}
	s.failure = s.annotate(fail)
	return nil
}

// annotate fills in the identifiers the session knows.
func (s *Session) annotate(e *Error) *Error {
	e.AttemptID = s.attempt.ID
	if s.txn != nil && e.GatewayOrderID == "" {
		e.GatewayOrderID = s.txn.GatewayOrderID
	}
	if s.proof != nil && e.PaymentID == "" {
		e.PaymentID = s.proof.PaymentID
	}
	return e
}

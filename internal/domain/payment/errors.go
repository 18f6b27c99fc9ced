package payment

import (
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrSessionNotFound is returned for an attempt that was never started
	// or has been swept.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrAttemptInvalidated is returned when starting an attempt that was
	// superseded or abandoned.
	ErrAttemptInvalidated = errors.New("checkout attempt is no longer valid")
	// ErrInvalidState is returned for a callback the session does not expect
	// in its current state.
	ErrInvalidState = errors.New("invalid payment state")
	// ErrUnknownCallback is returned for an unrecognized callback kind.
	ErrUnknownCallback = errors.New("unknown callback kind")
)

// Kind classifies payment failures so callers can tell whether money may
// have moved.
type Kind string

const (
	// KindGatewayInitiation: the gateway order could not be created, the
	// gateway UI failed to load or the echoed amount was wrong. Nothing was
	// charged.
	KindGatewayInitiation Kind = "gateway_initiation"
	// KindPaymentFailed: the gateway reports the charge failed.
	KindPaymentFailed Kind = "payment_failed"
	// KindVerificationFailed: a claimed payment was rejected server-side.
	// Money may have moved without an order.
	KindVerificationFailed Kind = "verification_failed"
	// KindPersistence: a cash order could not be written.
	KindPersistence Kind = "persistence"
	// KindUnconfirmed: order creation failed ambiguously and no order was
	// found for the payment. The session stays in AwaitingVerification.
	KindUnconfirmed Kind = "unconfirmed"
	// KindInvalidated: the attempt was superseded before payment completed.
	KindInvalidated Kind = "invalidated"
)

// Error is a classified payment failure.
type Error struct {
	Kind           Kind
	AttemptID      string
	GatewayOrderID string
	PaymentID      string
	Reason         string
	Err            error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("payment ")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MoneyMayHaveMoved reports whether the customer may have been charged
// without an order. Such failures must send the customer to their order
// history instead of offering a retry.
func (e *Error) MoneyMayHaveMoved() bool {
	return e.Kind == KindVerificationFailed || e.Kind == KindUnconfirmed
}

// Retryable reports whether starting the attempt again is safe.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindGatewayInitiation, KindPaymentFailed, KindPersistence:
		return true
	default:
		return false
	}
}

// AsError extracts a payment Error from err.
func AsError(err error) (*Error, bool) {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

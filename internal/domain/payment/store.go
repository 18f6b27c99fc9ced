package payment

import (
	"context"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Record is the durable form of a session. A record with an empty State only
// marks an attempt as invalidated.
type Record struct {
	Attempt       checkout.Attempt    `json:"attempt"`
	State         State               `json:"state,omitempty"`
	Transaction   *GatewayTransaction `json:"transaction,omitempty"`
	Proof         *order.Proof        `json:"proof,omitempty"`
	OrderID       string              `json:"order_id,omitempty"`
	Cancelled     bool                `json:"cancelled,omitempty"`
	Invalidated   bool                `json:"invalidated,omitempty"`
	FailureKind   Kind                `json:"failure_kind,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Store keeps session records so a restarted process, or another replica,
// can pick up a payment where it stopped.
type Store interface {
	// Load returns ErrSessionNotFound when nothing is stored for the attempt.
	Load(ctx context.Context, attemptID string) (*Record, error)
	Save(ctx context.Context, r Record) error
}

type nopStore struct{}

func (nopStore) Load(context.Context, string) (*Record, error) { return nil, ErrSessionNotFound }
func (nopStore) Save(context.Context, Record) error             { return nil }

func (s *Session) recordLocked() Record {
	r := Record{
		Attempt:     s.attempt,
		State:       s.state,
		Transaction: s.txn,
		Proof:       s.proof,
		Cancelled:   s.cancelled,
		Invalidated: s.invalidated,
		UpdatedAt:   s.updatedAt,
	}
	if s.order != nil {
		r.OrderID = s.order.ID
	}
	if s.failure != nil {
		r.FailureKind = s.failure.Kind
		r.FailureReason = s.failure.Reason
	}
	return r
}

// restoreSession rebuilds a session from its record. A restored settled
// session knows its order by id only.
func restoreSession(r Record) *Session {
	s := newSession(r.Attempt, r.UpdatedAt)
	s.state = r.State
	s.txn = r.Transaction
	s.proof = r.Proof
	s.cancelled = r.Cancelled
	s.invalidated = r.Invalidated
	if r.OrderID != "" {
		s.order = &order.Order{
			ID:        r.OrderID,
			UserID:    r.Attempt.UserID,
			AttemptID: r.Attempt.ID,
		}
		if r.Proof != nil {
			s.order.PaymentID = r.Proof.PaymentID
			s.order.GatewayOrderID = r.Proof.GatewayOrderID
		}
	}
	if r.FailureKind != "" {
		s.failure = s.annotate(&Error{Kind: r.FailureKind, Reason: r.FailureReason})
	}
	if s.state.IsTerminal() {
		close(s.done)
	}
	return s
}

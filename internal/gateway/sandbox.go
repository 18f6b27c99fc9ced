package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// ErrUnknownOrder is returned by Sandbox.Pay for an order it never created.
var ErrUnknownOrder = errors.New("unknown gateway order")

// SandboxPayment is a payment captured by the sandbox, in the shape the
// gateway UI hands to the client on success.
type SandboxPayment struct {
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Signature      string `json:"signature"`
}

var _ payment.Gateway = (*Sandbox)(nil)

// Sandbox is an in-process gateway for development and tests. Payments are
// signed with the same scheme the live gateway uses.
type Sandbox struct {
	signer *Signer

	mu     sync.Mutex
	orders map[string]payment.GatewayTransaction
}

// NewSandbox returns a Sandbox signing with signer.
func NewSandbox(signer *Signer) *Sandbox {
	return &Sandbox{
		signer: signer,
		orders: make(map[string]payment.GatewayTransaction),
	}
}

// CreateOrder records a new order echoing the requested amount.
func (s *Sandbox) CreateOrder(_ context.Context, req payment.GatewayOrderRequest) (payment.GatewayTransaction, error) {
	if req.AmountMinorUnits <= 0 {
		return payment.GatewayTransaction{}, &APIError{
			StatusCode:  400,
			Code:        "BAD_REQUEST_ERROR",
			Description: "amount must be at least 1",
		}
	}
	txn := payment.GatewayTransaction{
		GatewayOrderID:   "order_" + compactID(),
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		KeyID:            "sandbox",
	}

	s.mu.Lock()
	s.orders[txn.GatewayOrderID] = txn
	s.mu.Unlock()
	return txn, nil
}

// Pay captures a payment for the order.
func (s *Sandbox) Pay(gatewayOrderID string) (SandboxPayment, error) {
	s.mu.Lock()
	_, ok := s.orders[gatewayOrderID]
	s.mu.Unlock()
	if !ok {
		return SandboxPayment{}, errors.Wrap(ErrUnknownOrder, gatewayOrderID)
	}

	paymentID := "pay_" + compactID()
	return SandboxPayment{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Signature:      s.signer.Sign(gatewayOrderID, paymentID),
	}, nil
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

type gatewayOrderResponse struct {
	OrderID          string `json:"order_id"`
	KeyID            string `json:"key_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
}

type failureResponse struct {
	Kind      payment.Kind `json:"kind"`
	Reason    string       `json:"reason,omitempty"`
	Retryable bool         `json:"retryable"`
}

type paymentResponse struct {
	AttemptID         string                `json:"attempt_id"`
	State             payment.State         `json:"state"`
	Gateway           *gatewayOrderResponse `json:"gateway,omitempty"`
	PaymentID         string                `json:"payment_id,omitempty"`
	OrderID           string                `json:"order_id,omitempty"`
	Cancelled         bool                  `json:"cancelled,omitempty"`
	MoneyMayHaveMoved bool                  `json:"money_may_have_moved"`
	Failure           *failureResponse      `json:"failure,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func toPaymentResponse(v payment.View, fail *payment.Error) paymentResponse {
	resp := paymentResponse{
		AttemptID:         v.AttemptID,
		State:             v.State,
		PaymentID:         v.PaymentID,
		OrderID:           v.OrderID,
		Cancelled:         v.Cancelled,
		MoneyMayHaveMoved: v.MoneyMayHaveMoved,
		UpdatedAt:         v.UpdatedAt,
	}
	if txn := v.Transaction; txn != nil {
		resp.Gateway = &gatewayOrderResponse{
			OrderID:          txn.GatewayOrderID,
			KeyID:            txn.KeyID,
			AmountMinorUnits: txn.AmountMinorUnits,
			Currency:         txn.Currency,
		}
	}
	if fail != nil {
		resp.Failure = &failureResponse{
			Kind:      fail.Kind,
			Reason:    fail.Reason,
			Retryable: fail.Retryable(),
		}
		if fail.MoneyMayHaveMoved() {
			resp.MoneyMayHaveMoved = true
		}
	}
	return resp
}

// failureStatus is the HTTP status reported for a payment failure.
func failureStatus(k payment.Kind) int {
	switch k {
	case payment.KindGatewayInitiation:
		return http.StatusBadGateway
	case payment.KindPaymentFailed:
		return http.StatusPaymentRequired
	case payment.KindVerificationFailed:
		return http.StatusUnprocessableEntity
	case payment.KindPersistence:
		return http.StatusServiceUnavailable
	case payment.KindUnconfirmed:
		return http.StatusAccepted
	case payment.KindInvalidated:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondPayment writes the session view, or the error when it is not a
// classified payment failure.
func (h *Handler) respondPayment(w http.ResponseWriter, r *http.Request, attemptID string, v payment.View, err error) {
	if err == nil {
		respondJSON(w, r, http.StatusOK, toPaymentResponse(v, v.Failure))
		return
	}
	pErr, ok := payment.AsError(err)
	if !ok {
		respondError(w, r, err)
		return
	}
	if v.AttemptID == "" {
		v.AttemptID = attemptID
	}
	zctx.From(r.Context()).Info("Payment not completed",
		zap.String("attempt_id", attemptID),
		zap.String("kind", string(pErr.Kind)),
		zap.Error(err),
	)
	respondJSON(w, r, failureStatus(pErr.Kind), toPaymentResponse(v, pErr))
}

// ownedSession returns the payment session of the user's attempt.
func (h *Handler) ownedSession(r *http.Request, attemptID string) (*payment.Session, error) {
	s, err := h.payments.Session(r.Context(), attemptID)
	if err != nil {
		return nil, err
	}
	if s.Attempt().UserID != userFromContext(r.Context()) {
		return nil, payment.ErrSessionNotFound
	}
	return s, nil
}

// Pay handles POST /api/checkout/attempts/{attemptID}/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	a, err := h.checkout.Get(r.Context(), userFromContext(r.Context()), attemptID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	v, err := h.payments.Start(r.Context(), *a)
	h.respondPayment(w, r, attemptID, v, err)
}

type callbackRequest struct {
	Kind           payment.CallbackKind `json:"kind"`
	GatewayOrderID string               `json:"gateway_order_id,omitempty"`
	PaymentID      string               `json:"payment_id,omitempty"`
	Signature      string               `json:"signature,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

// Callback handles POST /api/checkout/attempts/{attemptID}/callback, the
// gateway UI's report relayed by the client.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	var req callbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid_body", "kind is required")
		return
	}

	s, err := h.ownedSession(r, attemptID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_, err = h.payments.Resolve(r.Context(), attemptID, payment.Callback{
		Kind:           req.Kind,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
		Reason:         req.Reason,
	})
	h.respondPayment(w, r, attemptID, s.View(), err)
}

// Reconcile handles POST /api/checkout/attempts/{attemptID}/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	s, err := h.ownedSession(r, attemptID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_, err = h.payments.Reconcile(r.Context(), attemptID)
	h.respondPayment(w, r, attemptID, s.View(), err)
}

type sandboxPayRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
}

// SandboxPay handles POST /api/sandbox/payments. It plays the customer
// paying in the gateway UI and returns the signed payment to relay as a
// success callback.
func (h *Handler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	var req sandboxPayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.sandbox.Pay(req.GatewayOrderID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, p)
}

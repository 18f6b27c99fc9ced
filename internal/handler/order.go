package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

type orderResponse struct {
	ID             string                      `json:"id"`
	AttemptID      string                      `json:"attempt_id"`
	Status         order.Status                `json:"status"`
	IsPaid         bool                        `json:"is_paid"`
	PaymentMethod  string                      `json:"payment_method"`
	PaymentID      string                      `json:"payment_id,omitempty"`
	GatewayOrderID string                      `json:"gateway_order_id,omitempty"`
	PromoCode      string                      `json:"promo_code,omitempty"`
	Fulfillment    fulfillment.Policy          `json:"fulfillment"`
	Address        *fulfillment.Address        `json:"address,omitempty"`
	Pickup         *fulfillment.PickupLocation `json:"pickup,omitempty"`
	Slot           *slot.Selection             `json:"slot,omitempty"`
	Items          []order.Item                `json:"items"`
	Totals         pricing.Totals              `json:"totals"`
	Note           string                      `json:"note,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := o.Items
	if items == nil {
		items = []order.Item{}
	}
	return orderResponse{
		ID:             o.ID,
		AttemptID:      o.AttemptID,
		Status:         o.Status,
		IsPaid:         o.IsPaid,
		PaymentMethod:  o.PaymentMethod,
		PaymentID:      o.PaymentID,
		GatewayOrderID: o.GatewayOrderID,
		PromoCode:      o.PromoCode,
		Fulfillment:    o.Fulfillment,
		Address:        o.Address,
		Pickup:         o.Pickup,
		Slot:           o.Slot,
		Items:          items,
		Totals:         o.Totals,
		Note:           o.Note,
		CreatedAt:      o.CreatedAt,
	}
}

// GetOrder handles GET /api/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, toOrderResponse(o))
}

// FindOrder handles GET /api/orders?paymentId=, the lookup the client falls
// back to when a payment outcome is uncertain.
func (h *Handler) FindOrder(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("paymentId")
	if paymentID == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "missing_payment_id", "paymentId query parameter is required")
		return
	}

	o, err := h.orders.FindByPaymentID(r.Context(), paymentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if o.UserID != userFromContext(r.Context()) {
		respondError(w, r, order.ErrNotFound)
		return
	}
	respondJSON(w, r, http.StatusOK, toOrderResponse(o))
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/fulfillment"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/slot"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

type slotsResponse struct {
	Dates []slot.DateOption `json:"dates"`
}

// ListSlots handles GET /api/checkout/slots?days=N.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	days := h.slots.HorizonDays()
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid_days", "days must be a positive integer")
			return
		}
		days = min(n, days)
	}

	dates := h.slots.ListValidDates(h.now(), days)
	if dates == nil {
		dates = []slot.DateOption{}
	}
	respondJSON(w, r, http.StatusOK, slotsResponse{Dates: dates})
}

type beginRequest struct {
	Fulfillment   fulfillment.Policy `json:"fulfillment"`
	Slot          *slot.Selection    `json:"slot,omitempty"`
	PromoCode     string             `json:"promo_code,omitempty"`
	PaymentMethod string             `json:"payment_method"`
	Note          string             `json:"note,omitempty"`
}

type lineResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	MRP       decimal.Decimal `json:"mrp"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type attemptResponse struct {
	ID            string                      `json:"id"`
	Lines         []lineResponse              `json:"lines"`
	PromoCode     string                      `json:"promo_code,omitempty"`
	Fulfillment   fulfillment.Policy          `json:"fulfillment"`
	Address       *fulfillment.Address        `json:"address,omitempty"`
	Pickup        *fulfillment.PickupLocation `json:"pickup,omitempty"`
	Slot          *slot.Selection             `json:"slot,omitempty"`
	PaymentMethod string                      `json:"payment_method"`
	Note          string                      `json:"note,omitempty"`
	Totals        pricing.Totals              `json:"totals"`
	Fingerprint   string                      `json:"fingerprint"`
	CreatedAt     time.Time                   `json:"created_at"`
	Payment       *paymentResponse            `json:"payment,omitempty"`
}

func toAttemptResponse(a *checkout.Attempt) attemptResponse {
	lines := make([]lineResponse, len(a.Lines))
	for i, l := range a.Lines {
		lines[i] = lineResponse{
			ProductID: l.ItemID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			MRP:       l.MRP,
			Subtotal:  l.Subtotal(),
		}
	}
	return attemptResponse{
		ID:            a.ID,
		Lines:         lines,
		PromoCode:     a.PromoCode(),
		Fulfillment:   a.Policy,
		Address:       a.Address,
		Pickup:        a.Pickup,
		Slot:          a.Slot,
		PaymentMethod: string(a.Method),
		Note:          a.Note,
		Totals:        a.Totals,
		Fingerprint:   a.Fingerprint,
		CreatedAt:     a.CreatedAt,
	}
}

// BeginAttempt handles POST /api/checkout/attempts.
func (h *Handler) BeginAttempt(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.checkout.Begin(r.Context(), checkout.BeginRequest{
		UserID:    userFromContext(r.Context()),
		Policy:    req.Fulfillment,
		Slot:      req.Slot,
		PromoCode: req.PromoCode,
		Method:    checkout.PaymentMethod(req.PaymentMethod),
		Note:      req.Note,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/checkout/attempts/"+a.ID)
	respondJSON(w, r, http.StatusCreated, toAttemptResponse(a))
}

// GetAttempt handles GET /api/checkout/attempts/{attemptID}.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.checkout.Get(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := toAttemptResponse(a)
	s, err := h.payments.Session(r.Context(), a.ID)
	switch {
	case errors.Is(err, payment.ErrSessionNotFound):
	case err != nil:
		respondError(w, r, err)
		return
	default:
		v := s.View()
		p := toPaymentResponse(v, v.Failure)
		resp.Payment = &p
	}
	respondJSON(w, r, http.StatusOK, resp)
}

// AbandonAttempt handles DELETE /api/checkout/attempts/{attemptID}.
func (h *Handler) AbandonAttempt(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Abandon(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "attemptID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

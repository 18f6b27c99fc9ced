package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/gateway"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	SuggestedMethod string `json:"suggested_method,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("Encode response", zap.Error(err))
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid_body", "malformed request body: "+err.Error())
		return false
	}
	return true
}

// respondError maps a domain error to a response. Unknown errors are logged
// and hidden behind a 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if vErr, ok := checkout.AsValidation(err); ok {
		respondJSON(w, r, http.StatusUnprocessableEntity, errorBody{Error: errorDetail{
			Code:            string(vErr.Code),
			Message:         vErr.Message,
			Field:           vErr.Field,
			SuggestedMethod: string(vErr.SuggestedMethod),
		}})
		return
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, checkout.ErrAttemptNotFound):
		status, code = http.StatusNotFound, "attempt_not_found"
	case errors.Is(err, payment.ErrSessionNotFound):
		status, code = http.StatusNotFound, "payment_not_started"
	case errors.Is(err, order.ErrNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, gateway.ErrUnknownOrder):
		status, code = http.StatusNotFound, "gateway_order_not_found"
	case errors.Is(err, checkout.ErrAttemptStale):
		status, code = http.StatusConflict, "attempt_stale"
	case errors.Is(err, payment.ErrAttemptInvalidated):
		status, code = http.StatusConflict, "attempt_invalidated"
	case errors.Is(err, payment.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_payment_state"
	case errors.Is(err, payment.ErrUnknownCallback):
		status, code = http.StatusBadRequest, "unknown_callback"
	}

	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, status, code, "internal server error")
		return
	}
	httpmiddleware.WriteError(w, status, code, err.Error())
}

package checkout

import (
	"github.com/go-faster/errors"
)

// ValidationCode identifies a user-actionable checkout problem.
type ValidationCode string

const (
	CodeEmptyCart                ValidationCode = "empty_cart"
	CodeInvalidQuantity          ValidationCode = "invalid_quantity"
	CodeItemUnavailable          ValidationCode = "item_unavailable"
	CodeOutOfStock               ValidationCode = "out_of_stock"
	CodeInvalidPolicy            ValidationCode = "invalid_delivery_policy"
	CodeAddressMissing           ValidationCode = "address_missing"
	CodeAddressUnlocated         ValidationCode = "address_unlocated"
	CodeAddressUndeliverable     ValidationCode = "address_undeliverable"
	CodePickupMissing            ValidationCode = "pickup_location_missing"
	CodeSlotMissing              ValidationCode = "slot_missing"
	CodeSlotInvalid              ValidationCode = "slot_invalid"
	CodeInvalidPaymentMethod     ValidationCode = "invalid_payment_method"
	CodePaymentMethodUnavailable ValidationCode = "payment_method_unavailable"
	CodeAmountBelowMinimum       ValidationCode = "amount_below_minimum"
	CodePromoInvalid             ValidationCode = "promo_invalid"
)

// ValidationError is a pre-payment rejection. Nothing has been charged or
// written when it is returned.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
	// SuggestedMethod is set when the requested payment method is not
	// offered and another one is.
	SuggestedMethod PaymentMethod
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(code ValidationCode, field, msg string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: msg}
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}

package service

import "errors"

// Error is a domain failure with a stable machine-readable code.  Wrap it
// with fmt.Errorf("%w: ...") to add detail; ErrorCode still finds it.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrNotEnoughInventory  = &Error{Code: "NOT_ENOUGH_INVENTORY", Msg: "not enough inventory"}
	ErrHoldNotFound        = &Error{Code: "HOLD_NOT_FOUND", Msg: "hold not found"}
	ErrHoldExpired         = &Error{Code: "HOLD_EXPIRED", Msg: "hold expired"}
	ErrAmountMismatch      = &Error{Code: "AMOUNT_MISMATCH", Msg: "paid amount does not match"}
	ErrPaymentNotCompleted = &Error{Code: "PAYMENT_NOT_COMPLETED", Msg: "payment not completed"}
	ErrPaymentNotFound     = &Error{Code: "PAYMENT_NOT_FOUND", Msg: "payment not found"}
	ErrPaymentRequired     = &Error{Code: "PAYMENT_REQUIRED", Msg: "popup requires payment"}
	ErrGatewayUnavailable  = &Error{Code: "PAYMENT_GATEWAY_UNAVAILABLE", Msg: "payment gateway unavailable"}
	ErrPopupNotFound       = &Error{Code: "POPUP_NOT_FOUND", Msg: "popup not found"}
	ErrSlotNotFound        = &Error{Code: "SLOT_NOT_FOUND", Msg: "slot not found"}
	ErrReservationNotFound = &Error{Code: "RESERVATION_NOT_FOUND", Msg: "reservation not found"}
	ErrInvalidRequest      = &Error{Code: "INVALID_REQUEST", Msg: "invalid request"}
	ErrForbidden           = &Error{Code: "FORBIDDEN", Msg: "forbidden"}
)

// CodeInternal is reported for errors that carry no domain code.
const CodeInternal = "INTERNAL"

// ErrorCode returns the domain code carried by err, or CodeInternal.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

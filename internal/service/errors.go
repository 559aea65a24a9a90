package service

import (
	"errors"
	"fmt"
)

// Validation errors: the request itself is wrong.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPriceMismatch     = errors.New("item price does not match catalog price")
	ErrVoucherInvalid    = errors.New("voucher is not applicable")
	ErrDiscountMismatch  = errors.New("discount does not match server-side calculation")
)

// Conflict errors: the request is well-formed but the current state forbids it.
var (
	ErrInvalidTransition   = errors.New("order status transition not allowed")
	ErrPaymentRequired     = errors.New("order requires a settled payment before processing")
	ErrPaymentNotRetryable = errors.New("payment is not eligible for retry")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	ErrRefundIneligible    = errors.New("payment is not eligible for refund")
)

// Callback errors: outcomes of gateway IPN processing, mapped by the
// endpoint onto the provider's response vocabulary.
var (
	ErrCallbackOrderNotFound = errors.New("callback references an unknown order")
	ErrCallbackAmountInvalid = errors.New("callback amount does not match the payment")
	ErrCallbackAlreadyFinal  = errors.New("payment already settled")
)

// ShipmentCreateError marks a partial saga failure: the order and payment
// committed, but carrier shipment creation failed afterwards. The commit is
// not rolled back; the outbox sweep retries the shipment.
type ShipmentCreateError struct {
	OrderID int64
	Err     error
}

func (e *ShipmentCreateError) Error() string {
	return fmt.Sprintf("shipment creation failed for order %d (order and payment committed): %v", e.OrderID, e.Err)
}

func (e *ShipmentCreateError) Unwrap() error {
	return e.Err
}

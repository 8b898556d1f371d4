package domain

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderMismatch     = errors.New("charge order number does not match order")
	ErrAmountMismatch    = errors.New("charge amount does not match order payment total")
	ErrChargeNotCaptured = errors.New("charge is not captured")
	ErrCheckoutCreation  = errors.New("checkout creation failed")
	ErrProcessorFault    = errors.New("processor api fault")
	ErrUnknownStatus     = errors.New("unknown redirect status")
)

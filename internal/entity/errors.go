package entity

import (
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrAlreadyPaid        = errors.New("already paid")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrOverpayment        = errors.New("overpayment")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrGatewayRejected    = errors.New("gateway rejected")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicateOrder     = errors.New("duplicate order")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrUnavailable        = errors.New("temporarily unavailable")

	// ErrPaymentNotCaptured is returned for refunds of payments whose capture has not been
	// reconciled yet. Retryable: the gateway redelivers after the capture lands.
	ErrPaymentNotCaptured = errors.New("payment not captured")
)

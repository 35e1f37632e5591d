package entity

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

type InvoicePaymentStatus string

const (
	InvoiceUnpaid        InvoicePaymentStatus = "unpaid"
	InvoicePartiallyPaid InvoicePaymentStatus = "partially_paid"
	InvoicePaid          InvoicePaymentStatus = "paid"
)

func (s InvoicePaymentStatus) String() string {
	return string(s)
}

// WorkflowStatus is owned by the invoice CRUD layer. The payment engine never reads or changes it.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowSent      WorkflowStatus = "sent"
	WorkflowOverdue   WorkflowStatus = "overdue"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

const DefaultCurrency = "INR"

// Invoice holds the payment ledger of one invoice. All amounts are in minor units.
type Invoice struct {
	ID             uuid.UUID
	Number         string
	Currency       string
	Total          int64
	TotalPaid      int64
	PaymentStatus  InvoicePaymentStatus
	WorkflowStatus WorkflowStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (i Invoice) RemainingBalance() int64 {
	return i.Total - i.TotalPaid
}

// Surplus is the overpaid amount, zero unless overpayment is allowed.
func (i Invoice) Surplus() int64 {
	if i.TotalPaid > i.Total {
		return i.TotalPaid - i.Total
	}

	return 0
}

// ApplyConfirmedPayment adds a confirmed payment to the ledger. On error the invoice is unchanged.
// Callers must apply it at most once per gateway payment id.
func (i *Invoice) ApplyConfirmedPayment(amount int64, allowOverpayment bool) error {
	if amount <= 0 {
		return fmt.Errorf("%w: payment amount %d must be positive", ErrInvalidAmount, amount)
	}

	totalPaid := i.TotalPaid + amount
	if totalPaid > i.Total && !allowOverpayment {
		return fmt.Errorf("%w: invoice %s total %d, paid %d, payment %d",
			ErrOverpayment, i.ID, i.Total, i.TotalPaid, amount)
	}

	i.TotalPaid = totalPaid
	i.PaymentStatus = statusFor(i.Total, i.TotalPaid)

	return nil
}

// ApplyRefund takes a refunded amount back out of the ledger. On error the invoice is unchanged.
func (i *Invoice) ApplyRefund(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: refund amount %d must be positive", ErrInvalidAmount, amount)
	}

	if amount > i.TotalPaid {
		return fmt.Errorf("%w: refund %d exceeds paid amount %d of invoice %s",
			ErrInvalidAmount, amount, i.TotalPaid, i.ID)
	}

	i.TotalPaid -= amount
	i.PaymentStatus = statusFor(i.Total, i.TotalPaid)

	return nil
}

// Recompute re-derives the payment status from the amounts.
func (i *Invoice) Recompute() {
	i.PaymentStatus = statusFor(i.Total, i.TotalPaid)
}

func statusFor(total, totalPaid int64) InvoicePaymentStatus {
	switch {
	case total-totalPaid <= 0:
		return InvoicePaid
	case totalPaid == 0:
		return InvoiceUnpaid
	default:
		return InvoicePartiallyPaid
	}
}

package entity

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

type LedgerEventKind string

const (
	LedgerPaymentApplied LedgerEventKind = "payment_applied"
	LedgerRefundApplied  LedgerEventKind = "refund_applied"
)

// LedgerEvent is published after a committed change of an invoice ledger.
type LedgerEvent struct {
	InvoiceID        uuid.UUID            `json:"invoiceId"`
	PaymentID        uuid.UUID            `json:"paymentId"`
	Kind             LedgerEventKind      `json:"kind"`
	Amount           int64                `json:"amount"`
	TotalPaid        int64                `json:"totalPaid"`
	RemainingBalance int64                `json:"remainingBalance"`
	PaymentStatus    InvoicePaymentStatus `json:"paymentStatus"`
	OccurredAt       time.Time            `json:"occurredAt"`
}

const minorUnitExp = -2

// MajorUnits converts a minor unit amount (paise) to its decimal major unit value (rupees).
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, minorUnitExp)
}

// FormatAmount renders a minor unit amount with two decimal places.
func FormatAmount(minor int64) string {
	return MajorUnits(minor).StringFixed(-minorUnitExp)
}

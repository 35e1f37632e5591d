package entity

import (
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
)

type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// FailureExpired is the failure reason of orders abandoned before any attempt.
const FailureExpired = "expired"

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentCreated, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentRefunded:
		return nil
	default:
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidArgument, s)
	}
}

// transitions lists the states each state may be entered from.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentAuthorized: {PaymentCreated},
	PaymentCaptured:   {PaymentCreated, PaymentAuthorized},
	PaymentFailed:     {PaymentCreated, PaymentAuthorized},
	PaymentRefunded:   {PaymentCaptured, PaymentRefunded},
}

// AllowedFrom returns the states from which s may be entered.
func (s PaymentStatus) AllowedFrom() []PaymentStatus {
	return transitions[s]
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return slices.Contains(transitions[next], s)
}

// Payment is one payment attempt for an invoice, bound to exactly one gateway order.
type Payment struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string // Empty until the gateway reports a payment.
	Amount           int64
	AmountRefunded   int64
	Currency         string
	Status           PaymentStatus
	Receipt          string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ConfirmedAt      time.Time // Zero until captured.
}

// PaymentUpdate carries optional fields written together with a status change.
type PaymentUpdate struct {
	GatewayPaymentID string
	FailureReason    string
	UpdatedAt        time.Time
}

type Refund struct {
	ID               uuid.UUID
	GatewayRefundID  string
	GatewayPaymentID string
	PaymentID        uuid.UUID
	Amount           int64
	CreatedAt        time.Time
}

const (
	DefaultPageLimit uint64 = 10
	MaxPageLimit     uint64 = 100
)

type PaymentFilter struct {
	Status  *PaymentStatus
	Page    uint64
	Limit   uint64
	SortBy  PaymentSortCol
	OrderBy OrderByCol
}

// Normalize fills in the first page, the default limit and ordering, and caps the limit.
func (f PaymentFilter) Normalize() PaymentFilter {
	if f.Page == 0 {
		f.Page = 1
	}

	if f.Limit == 0 {
		f.Limit = DefaultPageLimit
	}

	f.Limit = min(f.Limit, MaxPageLimit)

	if !f.SortBy.IsValid() {
		f.SortBy = SortByCreatedAt
	}

	if !f.OrderBy.IsValid() {
		f.OrderBy = DESC
	}

	return f
}

// Offset is the number of rows before the page.
func (f PaymentFilter) Offset() uint64 {
	if f.Page == 0 {
		return 0
	}

	return (f.Page - 1) * f.Limit
}

type PaymentSortCol string

func (p PaymentSortCol) String() string {
	return string(p)
}

const (
	SortByAmount    PaymentSortCol = "amount"
	SortByCreatedAt PaymentSortCol = "created_at"
	SortByStatus    PaymentSortCol = "status"
)

func (p PaymentSortCol) IsValid() bool {
	switch p {
	case SortByAmount, SortByCreatedAt, SortByStatus:
		return true
	}

	return false
}

type OrderByCol string

func (o OrderByCol) String() string {
	return string(o)
}

const (
	DESC OrderByCol = "desc"
	ASC  OrderByCol = "asc"
)

func (o OrderByCol) IsValid() bool {
	switch o {
	case DESC, ASC:
		return true
	}

	return false
}

// CanCapture reports whether paymentID may move p to captured. A failed attempt does not block a
// later successful payment of the same order, but never the one that failed.
func (p Payment) CanCapture(paymentID string) bool {
	if p.Status == PaymentFailed {
		return p.GatewayPaymentID != paymentID
	}

	return p.Status.CanTransitionTo(PaymentCaptured)
}

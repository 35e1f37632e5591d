package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// Repository is implemented by repository.Repository. Service tests use testutil.Store.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	Invoice(ctx context.Context, id uuid.UUID) (entity.Invoice, error)
	InvoiceForUpdate(ctx context.Context, id uuid.UUID) (entity.Invoice, error)
	UpdateInvoiceLedger(ctx context.Context, inv entity.Invoice) error

	CreatePayment(ctx context.Context, p entity.Payment) error
	PaymentByOrderID(ctx context.Context, orderID string) (entity.Payment, error)
	PaymentByPaymentID(ctx context.Context, paymentID string) (entity.Payment, error)
	MarkStatus(ctx context.Context, id uuid.UUID, to entity.PaymentStatus, upd entity.PaymentUpdate) (bool, error)
	CaptureIfAbsent(ctx context.Context, orderID, paymentID string, at time.Time) (entity.Payment, bool, error)
	ApplyRefundIfAbsent(ctx context.Context, refund entity.Refund) (bool, error)
	RecordWebhookEvent(ctx context.Context, ev entity.WebhookEvent) (bool, error)

	PendingPayments(ctx context.Context, from, to time.Time) ([]entity.Payment, error)
	ExpirePayments(ctx context.Context, createdBefore, at time.Time, reason string) (int64, error)
	InvoicePayments(ctx context.Context, invoiceID uuid.UUID, f entity.PaymentFilter) ([]entity.Payment, int, error)
}

package testutil

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

const (
	KeySecret     = "test_key_secret"
	WebhookSecret = "test_webhook_secret"
)

// NewInvoice returns an unpaid, sent invoice in the default currency.
func NewInvoice(total int64) entity.Invoice {
	now := time.Now()

	return entity.Invoice{
		ID:             uuid.Must(uuid.NewV4()),
		Number:         "INV-" + uuid.Must(uuid.NewV4()).String()[:8],
		Currency:       entity.DefaultCurrency,
		Total:          total,
		PaymentStatus:  entity.InvoiceUnpaid,
		WorkflowStatus: entity.WorkflowSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewPayment returns a created payment record for inv bound to orderID.
func NewPayment(inv entity.Invoice, orderID string, amount int64) entity.Payment {
	now := time.Now()

	return entity.Payment{
		ID:             uuid.Must(uuid.NewV4()),
		InvoiceID:      inv.ID,
		GatewayOrderID: orderID,
		Amount:         amount,
		Currency:       inv.Currency,
		Status:         entity.PaymentCreated,
		Receipt:        entity.NewReceipt(inv.ID.String(), now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

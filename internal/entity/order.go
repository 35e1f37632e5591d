package entity

import (
	"github.com/gofrs/uuid/v5"
)

type GatewayOrderStatus string

const (
	GatewayOrderCreated   GatewayOrderStatus = "created"
	GatewayOrderAttempted GatewayOrderStatus = "attempted"
	GatewayOrderPaid      GatewayOrderStatus = "paid"
)

type GatewayOrder struct {
	ID         string
	Amount     int64
	AmountPaid int64
	Currency   string
	Receipt    string
	Status     GatewayOrderStatus
}

type GatewayPayment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   PaymentStatus
}

type CreateOrderRequest struct {
	InvoiceID  uuid.UUID
	Amount     int64
	Currency   string
	ClientInfo ClientInfo
}

// ClientInfo is attached to the gateway order as notes.
type ClientInfo struct {
	Name    string
	Email   string
	Contact string
}

// OrderNotes returns the gateway order notes for an invoice, skipping empty client fields.
func (c ClientInfo) OrderNotes(inv Invoice) map[string]string {
	notes := map[string]string{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
	}

	for k, v := range map[string]string{"client_name": c.Name, "client_email": c.Email, "client_contact": c.Contact} {
		if v != "" {
			notes[k] = v
		}
	}

	return notes
}

type CreatedOrder struct {
	PaymentID        uuid.UUID
	GatewayOrderID   string
	Amount           int64
	Currency         string
	Receipt          string
	GatewayPublicKey string
}

type VerifyRequest struct {
	InvoiceID        uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// PaymentState is the invoice ledger as seen after a confirmation.
type PaymentState struct {
	InvoiceID        uuid.UUID
	PaymentStatus    InvoicePaymentStatus
	TotalPaid        int64
	RemainingBalance int64
	Replayed         bool
}

func StateOf(inv Invoice) PaymentState {
	return PaymentState{
		InvoiceID:        inv.ID,
		PaymentStatus:    inv.PaymentStatus,
		TotalPaid:        inv.TotalPaid,
		RemainingBalance: inv.RemainingBalance(),
	}
}

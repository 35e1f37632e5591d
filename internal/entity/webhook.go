package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type WebhookEventType string

const (
	EventPaymentAuthorized WebhookEventType = "payment.authorized"
	EventPaymentCaptured   WebhookEventType = "payment.captured"
	EventPaymentFailed     WebhookEventType = "payment.failed"
	EventOrderPaid         WebhookEventType = "order.paid"
	EventRefundCreated     WebhookEventType = "refund.created"
	EventRefundProcessed   WebhookEventType = "refund.processed"
)

func (t WebhookEventType) String() string {
	return string(t)
}

// WebhookEvent is a gateway notification reduced to the fields reconciliation needs.
type WebhookEvent struct {
	ID         string // Gateway event id, may be empty.
	Type       WebhookEventType
	OrderID    string
	PaymentID  string
	RefundID   string
	Amount     int64
	Currency   string
	ErrorDesc  string
	ReceivedAt time.Time
}

// EntityID is the gateway id the event is about.
func (e WebhookEvent) EntityID() string {
	switch {
	case e.RefundID != "":
		return e.RefundID
	case e.PaymentID != "":
		return e.PaymentID
	default:
		return e.OrderID
	}
}

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookQueued    WebhookOutcome = "queued"
	WebhookRejected  WebhookOutcome = "rejected"
)

type WebhookResult struct {
	Event   WebhookEventType
	Outcome WebhookOutcome
}

// QueuedWebhook is a signature-verified webhook waiting for asynchronous processing.
type QueuedWebhook struct {
	EventID    string    `json:"eventId"`
	Body       []byte    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity webhookOrder `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity webhookRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type webhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

type webhookOrder struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

type webhookRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// ParseWebhookEvent decodes a webhook body. The signature must be verified before calling it.
func ParseWebhookEvent(body []byte, eventID string, receivedAt time.Time) (WebhookEvent, error) {
	var env webhookEnvelope

	err := json.Unmarshal(body, &env)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode webhook body: %w", ErrInvalidArgument, err)
	}

	if env.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook event type is empty", ErrInvalidArgument)
	}

	ev := WebhookEvent{
		ID:         eventID,
		Type:       WebhookEventType(env.Event),
		ReceivedAt: receivedAt,
	}

	if p := env.Payload.Payment; p != nil {
		ev.PaymentID = p.Entity.ID
		ev.OrderID = p.Entity.OrderID
		ev.Amount = p.Entity.Amount
		ev.Currency = p.Entity.Currency
		ev.ErrorDesc = p.Entity.ErrorDescription
	}

	if o := env.Payload.Order; o != nil && ev.OrderID == "" {
		ev.OrderID = o.Entity.ID
		ev.Currency = o.Entity.Currency
		ev.Amount = o.Entity.AmountPaid
	}

	if r := env.Payload.Refund; r != nil {
		ev.RefundID = r.Entity.ID
		ev.PaymentID = r.Entity.PaymentID
		ev.Amount = r.Entity.Amount
		ev.Currency = r.Entity.Currency
	}

	return ev, ev.validate()
}

func (e WebhookEvent) validate() error {
	switch e.Type {
	case EventPaymentCaptured, EventOrderPaid:
		if e.OrderID == "" || e.PaymentID == "" {
			return fmt.Errorf("%w: %s event without order or payment id", ErrInvalidArgument, e.Type)
		}
	case EventPaymentAuthorized, EventPaymentFailed:
		if e.OrderID == "" {
			return fmt.Errorf("%w: %s event without order id", ErrInvalidArgument, e.Type)
		}
	case EventRefundCreated, EventRefundProcessed:
		if e.RefundID == "" || e.PaymentID == "" {
			return fmt.Errorf("%w: %s event without refund or payment id", ErrInvalidArgument, e.Type)
		}

		if e.Amount <= 0 {
			return fmt.Errorf("%w: %s event with amount %d", ErrInvalidArgument, e.Type, e.Amount)
		}
	}

	return nil
}

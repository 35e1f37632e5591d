package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samandr77/microservices/billing/internal/entity"
)

type captureInput struct {
	orderID   string
	paymentID string
	amount    int64 // As reported by the gateway, zero when unknown.
	event     *entity.WebhookEvent
}

type captureResult struct {
	payment   entity.Payment
	invoice   entity.Invoice
	performed bool
	duplicate bool
}

// capture is the single path that turns a gateway payment into ledger money. The payment
// transition, the webhook event id and the invoice update commit together or not at all.
func (s *Service) capture(ctx context.Context, in captureInput) (captureResult, error) {
	var res captureResult

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		res = captureResult{}
		now := s.now()

		fresh, err := s.recordEvent(ctx, in.event)
		if err != nil {
			return err
		}

		if !fresh {
			res.duplicate = true
			return nil
		}

		p, ok, err := s.repo.CaptureIfAbsent(ctx, in.orderID, in.paymentID, now)
		if err != nil {
			return fmt.Errorf("capture payment: %w", err)
		}

		if !ok {
			p, err = s.alreadyCaptured(ctx, in)
			if err != nil {
				return err
			}

			res.payment = p
			res.invoice, err = s.repo.Invoice(ctx, p.InvoiceID)
			if err != nil {
				return fmt.Errorf("get invoice: %w", err)
			}

			return nil
		}

		if in.amount != 0 && in.amount != p.Amount {
			slog.WarnContext(ctx, "gateway amount differs from payment record",
				"payment_id", p.ID, "gateway_amount", in.amount, "record_amount", p.Amount)
		}

		inv, err := s.repo.InvoiceForUpdate(ctx, p.InvoiceID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return fmt.Errorf("%w: %s", entity.ErrInvoiceNotFound, p.InvoiceID)
			}

			return fmt.Errorf("lock invoice: %w", err)
		}

		err = inv.ApplyConfirmedPayment(p.Amount, s.cfg.AllowOverpayment)
		if err != nil {
			return fmt.Errorf("apply payment %s to invoice %s: %w", p.ID, inv.ID, err)
		}

		inv.UpdatedAt = now

		err = s.repo.UpdateInvoiceLedger(ctx, inv)
		if err != nil {
			return fmt.Errorf("update invoice ledger: %w", err)
		}

		if surplus := inv.Surplus(); surplus > 0 {
			slog.WarnContext(ctx, "invoice overpaid", "invoice_id", inv.ID, "surplus", entity.FormatAmount(surplus))
		}

		res.payment = p
		res.invoice = inv
		res.performed = true

		return nil
	})
	if err != nil {
		return captureResult{}, err
	}

	if res.performed {
		slog.InfoContext(ctx, fmt.Sprintf("Payment %s captured for %s", res.payment.GatewayPaymentID, entity.FormatAmount(res.payment.Amount)),
			"payment_id", res.payment.ID, "invoice_id", res.invoice.ID, "invoice_status", res.invoice.PaymentStatus)

		s.publishLedger(ctx, entity.LedgerPaymentApplied, res.payment, res.payment.Amount, res.invoice)
	}

	return res, nil
}

// alreadyCaptured explains why the capture gate did not fire. A replay of the same payment is
// not an error.
func (s *Service) alreadyCaptured(ctx context.Context, in captureInput) (entity.Payment, error) {
	p, err := s.repo.PaymentByOrderID(ctx, in.orderID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.Payment{}, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, in.orderID)
		}

		return entity.Payment{}, fmt.Errorf("get payment: %w", err)
	}

	switch {
	case p.GatewayPaymentID == in.paymentID && (p.Status == entity.PaymentCaptured || p.Status == entity.PaymentRefunded):
		return p, nil

	case p.Status == entity.PaymentCaptured || p.Status == entity.PaymentRefunded:
		return entity.Payment{}, fmt.Errorf("%w: order %s already captured by payment %s",
			entity.ErrInvalidTransition, in.orderID, p.GatewayPaymentID)

	default:
		return entity.Payment{}, fmt.Errorf("%w: payment %s is %s", entity.ErrInvalidTransition, in.paymentID, p.Status)
	}
}

// recordEvent stores the webhook event id in the current transaction. It reports false for a
// redelivered event. Calls without an event id always proceed.
func (s *Service) recordEvent(ctx context.Context, ev *entity.WebhookEvent) (bool, error) {
	if ev == nil || ev.ID == "" {
		return true, nil
	}

	fresh, err := s.repo.RecordWebhookEvent(ctx, *ev)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}

	return fresh, nil
}

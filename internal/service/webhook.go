package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// HandleWebhook authenticates a raw gateway notification and applies it, or enqueues it when a
// webhook queue is configured.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (entity.WebhookResult, error) {
	if !s.verifier.VerifyWebhookSignature(body, signature) {
		slog.WarnContext(ctx, "webhook signature rejected",
			"security_event", "webhook_signature_invalid",
			"event_id", eventID,
		)

		return entity.WebhookResult{}, entity.ErrSignatureInvalid
	}

	receivedAt := s.now()

	ev, err := entity.ParseWebhookEvent(body, eventID, receivedAt)
	if err != nil {
		return entity.WebhookResult{Event: ev.Type}, err
	}

	if s.queue == nil {
		return s.processEvent(ctx, ev)
	}

	// Events of one payment share a partition.
	key := ev.PaymentID
	if key == "" {
		key = ev.OrderID
	}

	err = s.queue.Send(ctx, key, entity.QueuedWebhook{
		EventID:    eventID,
		Body:       body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		return entity.WebhookResult{}, fmt.Errorf("%w: enqueue webhook: %w", entity.ErrUnavailable, err)
	}

	return entity.WebhookResult{Event: ev.Type, Outcome: entity.WebhookQueued}, nil
}

// ProcessQueuedWebhook applies a webhook whose signature was verified before it was enqueued.
func (s *Service) ProcessQueuedWebhook(ctx context.Context, q entity.QueuedWebhook) (entity.WebhookResult, error) {
	ev, err := entity.ParseWebhookEvent(q.Body, q.EventID, q.ReceivedAt)
	if err != nil {
		return entity.WebhookResult{Event: ev.Type}, err
	}

	return s.processEvent(ctx, ev)
}

func (s *Service) processEvent(ctx context.Context, ev entity.WebhookEvent) (entity.WebhookResult, error) {
	l := slog.With("event_id", ev.ID, "event", ev.Type, "entity_id", ev.EntityID())

	if s.seen(ctx, l, ev) {
		return entity.WebhookResult{Event: ev.Type, Outcome: entity.WebhookDuplicate}, nil
	}

	var (
		outcome entity.WebhookOutcome
		err     error
	)

	switch ev.Type {
	case entity.EventPaymentCaptured, entity.EventOrderPaid:
		outcome, err = s.applyCapture(ctx, ev)

	case entity.EventPaymentAuthorized:
		outcome, err = s.applyStatus(ctx, l, ev, entity.PaymentAuthorized)

	case entity.EventPaymentFailed:
		outcome, err = s.applyStatus(ctx, l, ev, entity.PaymentFailed)

	case entity.EventRefundCreated, entity.EventRefundProcessed:
		outcome, err = s.applyRefund(ctx, ev)

	default:
		l.InfoContext(ctx, "webhook event ignored")
		return entity.WebhookResult{Event: ev.Type, Outcome: entity.WebhookIgnored}, nil
	}

	if err != nil {
		return entity.WebhookResult{Event: ev.Type}, fmt.Errorf("apply %s: %w", ev.Type, err)
	}

	l.InfoContext(ctx, "webhook event processed", "outcome", outcome)

	s.remember(ctx, l, ev)

	return entity.WebhookResult{Event: ev.Type, Outcome: outcome}, nil
}

func (s *Service) applyCapture(ctx context.Context, ev entity.WebhookEvent) (entity.WebhookOutcome, error) {
	res, err := s.capture(ctx, captureInput{
		orderID:   ev.OrderID,
		paymentID: ev.PaymentID,
		amount:    ev.Amount,
		event:     &ev,
	})
	if err != nil {
		return "", err
	}

	if res.performed {
		return entity.WebhookApplied, nil
	}

	return entity.WebhookDuplicate, nil
}

// applyStatus records gateway progress that carries no money. A status the record already moved
// past is left untouched.
func (s *Service) applyStatus(
	ctx context.Context,
	l *slog.Logger,
	ev entity.WebhookEvent,
	to entity.PaymentStatus,
) (entity.WebhookOutcome, error) {
	outcome := entity.WebhookApplied

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		outcome = entity.WebhookApplied

		fresh, err := s.recordEvent(ctx, &ev)
		if err != nil {
			return err
		}

		if !fresh {
			outcome = entity.WebhookDuplicate
			return nil
		}

		p, err := s.repo.PaymentByOrderID(ctx, ev.OrderID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return fmt.Errorf("%w: %s", entity.ErrOrderNotFound, ev.OrderID)
			}

			return fmt.Errorf("get payment: %w", err)
		}

		changed, err := s.repo.MarkStatus(ctx, p.ID, to, entity.PaymentUpdate{
			GatewayPaymentID: ev.PaymentID,
			FailureReason:    ev.ErrorDesc,
			UpdatedAt:        s.now(),
		})
		if err != nil {
			return fmt.Errorf("mark payment %s %s: %w", p.ID, to, err)
		}

		if !changed {
			l.InfoContext(ctx, "payment status not changed", "payment_id", p.ID, "status", p.Status, "target", to)

			outcome = entity.WebhookIgnored
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return outcome, nil
}

// applyRefund moves refunded money out of the ledger once per gateway refund id. Refunds of
// payments not captured here yet fail with ErrPaymentNotCaptured so the gateway redelivers them.
func (s *Service) applyRefund(ctx context.Context, ev entity.WebhookEvent) (entity.WebhookOutcome, error) {
	var (
		outcome entity.WebhookOutcome
		payment entity.Payment
		invoice entity.Invoice
	)

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		outcome = entity.WebhookApplied
		now := s.now()

		fresh, err := s.recordEvent(ctx, &ev)
		if err != nil {
			return err
		}

		if !fresh {
			outcome = entity.WebhookDuplicate
			return nil
		}

		p, err := s.repo.PaymentByPaymentID(ctx, ev.PaymentID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return fmt.Errorf("%w: %s", entity.ErrPaymentNotCaptured, ev.PaymentID)
			}

			return fmt.Errorf("get payment: %w", err)
		}

		if p.Status != entity.PaymentCaptured && p.Status != entity.PaymentRefunded {
			return fmt.Errorf("%w: payment %s is %s", entity.ErrPaymentNotCaptured, ev.PaymentID, p.Status)
		}

		applied, err := s.repo.ApplyRefundIfAbsent(ctx, entity.Refund{
			ID:               uuid.Must(uuid.NewV4()),
			GatewayRefundID:  ev.RefundID,
			GatewayPaymentID: ev.PaymentID,
			PaymentID:        p.ID,
			Amount:           ev.Amount,
			CreatedAt:        now,
		})
		if err != nil {
			return fmt.Errorf("apply refund %s: %w", ev.RefundID, err)
		}

		if !applied {
			outcome = entity.WebhookDuplicate
			return nil
		}

		inv, err := s.repo.InvoiceForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}

		err = inv.ApplyRefund(ev.Amount)
		if err != nil {
			return fmt.Errorf("refund %s on invoice %s: %w", ev.RefundID, inv.ID, err)
		}

		inv.UpdatedAt = now

		err = s.repo.UpdateInvoiceLedger(ctx, inv)
		if err != nil {
			return fmt.Errorf("update invoice ledger: %w", err)
		}

		payment = p
		invoice = inv

		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == entity.WebhookApplied {
		slog.InfoContext(ctx, fmt.Sprintf("Refund %s of %s applied", ev.RefundID, entity.FormatAmount(ev.Amount)),
			"payment_id", payment.ID, "invoice_id", invoice.ID, "invoice_status", invoice.PaymentStatus)

		s.publishLedger(ctx, entity.LedgerRefundApplied, payment, ev.Amount, invoice)
	}

	return outcome, nil
}

func (s *Service) seen(ctx context.Context, l *slog.Logger, ev entity.WebhookEvent) bool {
	if s.window == nil || ev.ID == "" {
		return false
	}

	seen, err := s.window.Seen(ctx, ev.ID)
	if err != nil {
		l.WarnContext(ctx, "event window lookup failed", "error", err)
		return false
	}

	return seen
}

func (s *Service) remember(ctx context.Context, l *slog.Logger, ev entity.WebhookEvent) {
	if s.window == nil || ev.ID == "" {
		return
	}

	err := s.window.Remember(ctx, ev.ID)
	if err != nil {
		l.WarnContext(ctx, "event window update failed", "error", err)
	}
}

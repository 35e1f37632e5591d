package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/pkg/broker"
	"github.com/samandr77/microservices/billing/pkg/logger"
)

type Service interface {
	ProcessQueuedWebhook(ctx context.Context, q entity.QueuedWebhook) (entity.WebhookResult, error)
}

type EventHandler struct {
	s Service
}

func NewEventHandler(s Service) *EventHandler {
	return &EventHandler{s: s}
}

// OnWebhook applies a queued gateway webhook. Transient failures are marked so the router keeps
// the message until a later delivery applies it. Rejected events are dropped.
func (h *EventHandler) OnWebhook(ctx context.Context, msg kafka.Message) error {
	var q entity.QueuedWebhook

	err := json.Unmarshal(msg.Value, &q)
	if err != nil {
		return fmt.Errorf("unmarshal queued webhook: %w", err)
	}

	if q.EventID != "" {
		ctx = logger.WithRequestID(ctx, q.EventID)
	}

	res, err := h.s.ProcessQueuedWebhook(ctx, q)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrPaymentNotCaptured), errors.Is(err, entity.ErrUnavailable):
			return broker.Transient(err)

		case errors.Is(err, entity.ErrInvalidArgument),
			errors.Is(err, entity.ErrOrderNotFound),
			errors.Is(err, entity.ErrInvoiceNotFound),
			errors.Is(err, entity.ErrOverpayment),
			errors.Is(err, entity.ErrInvalidAmount),
			errors.Is(err, entity.ErrInvalidTransition):
			slog.WarnContext(ctx, "queued webhook rejected", "error", err)
			return nil

		default:
			return broker.Transient(fmt.Errorf("process queued webhook: %w", err))
		}
	}

	slog.DebugContext(ctx, "queued webhook processed", "event", res.Event, "outcome", res.Outcome)

	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// ReconcilePendingOrders asks the gateway about orders nobody confirmed and captures the ones
// that were paid. It covers lost client callbacks and webhooks.
func (s *Service) ReconcilePendingOrders(ctx context.Context) error {
	now := s.now()

	payments, err := s.repo.PendingPayments(ctx, now.Add(-s.cfg.ReconcileWindow), now.Add(-s.cfg.PendingOrderAge))
	if err != nil {
		return fmt.Errorf("get pending payments: %w", err)
	}

	var (
		errs     []error
		captured int
	)

	for _, p := range payments {
		ok, err := s.reconcile(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile order %q: %w", p.GatewayOrderID, err))
			continue
		}

		if ok {
			captured++
		}
	}

	slog.InfoContext(ctx, "pending orders reconciled", "checked", len(payments), "captured", captured)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (s *Service) reconcile(ctx context.Context, p entity.Payment) (bool, error) {
	order, err := s.gateway.FetchOrder(ctx, p.GatewayOrderID)
	if err != nil {
		return false, fmt.Errorf("fetch order: %w", err)
	}

	if order.Status != entity.GatewayOrderPaid {
		return false, nil
	}

	gatewayPayments, err := s.gateway.FetchOrderPayments(ctx, p.GatewayOrderID)
	if err != nil {
		return false, fmt.Errorf("fetch order payments: %w", err)
	}

	for _, gp := range gatewayPayments {
		if gp.Status != entity.PaymentCaptured {
			continue
		}

		res, err := s.capture(ctx, captureInput{
			orderID:   p.GatewayOrderID,
			paymentID: gp.ID,
			amount:    gp.Amount,
		})
		if err != nil {
			return false, err
		}

		return res.performed, nil
	}

	return false, fmt.Errorf("%w: order is paid without a captured payment", entity.ErrInvalidTransition)
}

// ExpireStaleOrders fails created payments whose checkout was abandoned.
func (s *Service) ExpireStaleOrders(ctx context.Context) error {
	now := s.now()

	n, err := s.repo.ExpirePayments(ctx, now.Add(-s.cfg.OrderTTL), now, entity.FailureExpired)
	if err != nil {
		return fmt.Errorf("expire payments: %w", err)
	}

	if n > 0 {
		slog.InfoContext(ctx, "stale payment orders expired", "count", n)
	}

	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/pkg/logger"
)

// Verify confirms a client-reported payment. Nothing is read or written before the checkout
// signature is verified. Repeated confirmations of the same payment return the current state.
func (s *Service) Verify(ctx context.Context, req entity.VerifyRequest) (entity.PaymentState, error) {
	ctx = logger.WithInvoiceID(ctx, req.InvoiceID)

	if !s.verifier.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		slog.WarnContext(ctx, "payment signature rejected",
			"security_event", "payment_signature_invalid",
			"order_id", req.GatewayOrderID,
			"payment_id", req.GatewayPaymentID,
		)

		return entity.PaymentState{}, entity.ErrSignatureInvalid
	}

	p, err := s.repo.PaymentByOrderID(ctx, req.GatewayOrderID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.PaymentState{}, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, req.GatewayOrderID)
		}

		return entity.PaymentState{}, fmt.Errorf("get payment: %w", err)
	}

	if p.InvoiceID != req.InvoiceID {
		return entity.PaymentState{}, fmt.Errorf("%w: order %s does not belong to invoice %s",
			entity.ErrOrderNotFound, req.GatewayOrderID, req.InvoiceID)
	}

	res, err := s.capture(ctx, captureInput{
		orderID:   req.GatewayOrderID,
		paymentID: req.GatewayPaymentID,
	})
	if err != nil {
		return entity.PaymentState{}, err
	}

	state := entity.StateOf(res.invoice)
	state.Replayed = !res.performed

	return state, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/pkg/logger"
)

// CreateOrder opens a gateway order for the full remaining balance of an invoice and stores a
// created payment record for it. The invoice ledger is not touched.
func (s *Service) CreateOrder(ctx context.Context, req entity.CreateOrderRequest) (entity.CreatedOrder, error) {
	ctx = logger.WithInvoiceID(ctx, req.InvoiceID)

	if req.Amount <= 0 {
		return entity.CreatedOrder{}, fmt.Errorf("%w: amount %d", entity.ErrInvalidAmount, req.Amount)
	}

	inv, err := s.repo.Invoice(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.CreatedOrder{}, fmt.Errorf("%w: %s", entity.ErrInvoiceNotFound, req.InvoiceID)
		}

		return entity.CreatedOrder{}, fmt.Errorf("get invoice: %w", err)
	}

	if inv.PaymentStatus == entity.InvoicePaid || inv.RemainingBalance() <= 0 {
		return entity.CreatedOrder{}, fmt.Errorf("%w: invoice %s", entity.ErrAlreadyPaid, inv.ID)
	}

	currency := req.Currency
	if currency == "" {
		currency = inv.Currency
	}

	if currency != inv.Currency {
		return entity.CreatedOrder{}, fmt.Errorf("%w: currency %s, invoice is in %s", entity.ErrInvalidArgument, currency, inv.Currency)
	}

	if req.Amount != inv.RemainingBalance() {
		return entity.CreatedOrder{}, fmt.Errorf("%w: amount %d, remaining balance %d",
			entity.ErrAmountMismatch, req.Amount, inv.RemainingBalance())
	}

	notes := req.ClientInfo.OrderNotes(inv)

	var (
		order   entity.GatewayOrder
		receipt string
		attempt int
	)

	backoff := retry.WithMaxRetries(s.cfg.CreateOrderAttempts-1, retry.NewExponential(s.cfg.RetryBaseDelay))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		// Receipts are never reused across attempts.
		receipt = entity.NewReceipt(inv.ID.String(), s.now())

		var err error

		order, err = s.gateway.CreateOrder(ctx, req.Amount, currency, receipt, notes)
		if err != nil {
			if errors.Is(err, entity.ErrGatewayUnavailable) {
				slog.WarnContext(ctx, "gateway order creation failed", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}

			return err
		}

		return nil
	})
	if err != nil {
		return entity.CreatedOrder{}, fmt.Errorf("create gateway order: %w", err)
	}

	now := s.now()

	p := entity.Payment{
		ID:             uuid.Must(uuid.NewV4()),
		InvoiceID:      inv.ID,
		GatewayOrderID: order.ID,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         entity.PaymentCreated,
		Receipt:        receipt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.repo.CreatePayment(ctx, p)
	if err != nil {
		return entity.CreatedOrder{}, fmt.Errorf("create payment: %w", err)
	}

	slog.InfoContext(ctx, fmt.Sprintf("Payment order %s created for %s %s", order.ID, entity.FormatAmount(p.Amount), currency),
		"payment_id", p.ID, "receipt", receipt, "attempts", attempt)

	return entity.CreatedOrder{
		PaymentID:        p.ID,
		GatewayOrderID:   order.ID,
		Amount:           p.Amount,
		Currency:         currency,
		Receipt:          receipt,
		GatewayPublicKey: s.gateway.PublicKey(),
	}, nil
}

func (s *Service) InvoicePayments(
	ctx context.Context,
	invoiceID uuid.UUID,
	f entity.PaymentFilter,
) (entity.Invoice, []entity.Payment, int, error) {
	inv, err := s.repo.Invoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.Invoice{}, nil, 0, fmt.Errorf("%w: %s", entity.ErrInvoiceNotFound, invoiceID)
		}

		return entity.Invoice{}, nil, 0, fmt.Errorf("get invoice: %w", err)
	}

	payments, total, err := s.repo.InvoicePayments(ctx, invoiceID, f.Normalize())
	if err != nil {
		return entity.Invoice{}, nil, 0, fmt.Errorf("get invoice payments: %w", err)
	}

	return inv, payments, total, nil
}

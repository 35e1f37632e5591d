package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// ApplyRefundIfAbsent records the refund and adds it to the payment's refunded amount. It reports
// false when the refund id was already recorded. A refund exceeding the captured amount returns
// ErrInvalidAmount and records nothing.
func (r *Repository) ApplyRefundIfAbsent(ctx context.Context, refund entity.Refund) (bool, error) {
	applied := false

	err := r.InTx(ctx, func(ctx context.Context) error {
		const insertQ = `
		INSERT INTO refunds (id, gateway_refund_id, gateway_payment_id, payment_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gateway_refund_id) DO NOTHING
		RETURNING id
		`

		var id uuid.UUID

		err := r.conn(ctx).QueryRow(
			ctx,
			insertQ,
			refund.ID,
			refund.GatewayRefundID,
			refund.GatewayPaymentID,
			refund.PaymentID,
			refund.Amount,
			refund.CreatedAt,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}

			return fmt.Errorf("insert refund: %w", err)
		}

		const updateQ = `
		UPDATE payments SET
			status = 'refunded',
			amount_refunded = amount_refunded + $1,
			updated_at = $2
		WHERE id = $3
			AND status IN ('captured', 'refunded')
			AND amount_refunded + $1 <= amount
		`

		result, err := r.conn(ctx).Exec(ctx, updateQ, refund.Amount, refund.CreatedAt, refund.PaymentID)
		if err != nil {
			return fmt.Errorf("update refunded amount: %w", err)
		}

		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: refund %s exceeds captured amount", entity.ErrInvalidAmount, refund.GatewayRefundID)
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

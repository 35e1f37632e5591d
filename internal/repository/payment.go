package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype/zeronull"

	"github.com/samandr77/microservices/billing/internal/entity"
)

func (r *Repository) CreatePayment(ctx context.Context, p entity.Payment) error {
	const q = `
	INSERT INTO payments (
		id,
		invoice_id,
		gateway_order_id,
		gateway_payment_id,
		amount,
		amount_refunded,
		currency,
		status,
		receipt,
		failure_reason,
		created_at,
		updated_at,
		confirmed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.conn(ctx).Exec(
		ctx,
		q,
		p.ID,
		p.InvoiceID,
		p.GatewayOrderID,
		zeronull.Text(p.GatewayPaymentID),
		p.Amount,
		p.AmountRefunded,
		p.Currency,
		p.Status,
		p.Receipt,
		zeronull.Text(p.FailureReason),
		p.CreatedAt,
		p.UpdatedAt,
		zeronull.Timestamptz(p.ConfirmedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: gateway order %s", entity.ErrDuplicateOrder, p.GatewayOrderID)
		}

		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *Repository) Payment(ctx context.Context, id uuid.UUID) (entity.Payment, error) {
	q := selectPayment + " WHERE id = $1"
	return scanPayment(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *Repository) PaymentByOrderID(ctx context.Context, orderID string) (entity.Payment, error) {
	q := selectPayment + " WHERE gateway_order_id = $1"
	return scanPayment(r.conn(ctx).QueryRow(ctx, q, orderID))
}

// PaymentByPaymentID prefers the captured record when a failed attempt carries the same id.
func (r *Repository) PaymentByPaymentID(ctx context.Context, paymentID string) (entity.Payment, error) {
	q := selectPayment + ` WHERE gateway_payment_id = $1
	ORDER BY status IN ('captured', 'refunded') DESC, updated_at DESC
	LIMIT 1`

	return scanPayment(r.conn(ctx).QueryRow(ctx, q, paymentID))
}

// MarkStatus moves a payment to a non-terminal-for-money state. It reports false when the
// current state does not allow the transition. Captures and refunds have their own gates.
func (r *Repository) MarkStatus(
	ctx context.Context,
	id uuid.UUID,
	to entity.PaymentStatus,
	upd entity.PaymentUpdate,
) (bool, error) {
	if to == entity.PaymentCaptured || to == entity.PaymentRefunded || len(to.AllowedFrom()) == 0 {
		return false, fmt.Errorf("%w: mark %s", entity.ErrInvalidTransition, to)
	}

	const q = `
	UPDATE payments SET
		status = $1,
		gateway_payment_id = COALESCE($2, gateway_payment_id),
		failure_reason = COALESCE($3, failure_reason),
		updated_at = $4
	WHERE id = $5 AND status = ANY($6)
	`

	result, err := r.conn(ctx).Exec(
		ctx,
		q,
		to,
		zeronull.Text(upd.GatewayPaymentID),
		zeronull.Text(upd.FailureReason),
		upd.UpdatedAt,
		id,
		statusStrings(to.AllowedFrom()),
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// CaptureIfAbsent moves the order's payment to captured in a single statement. It returns the
// captured record and true only for the call that performed the transition.
func (r *Repository) CaptureIfAbsent(
	ctx context.Context,
	orderID, paymentID string,
	at time.Time,
) (entity.Payment, bool, error) {
	q := `
	UPDATE payments SET
		status = 'captured',
		gateway_payment_id = $2,
		failure_reason = NULL,
		confirmed_at = $3,
		updated_at = $3
	WHERE gateway_order_id = $1
		AND (
			status IN ('created', 'authorized')
			OR (status = 'failed' AND gateway_payment_id IS DISTINCT FROM $2)
		)
	RETURNING` + paymentColumns

	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, q, orderID, paymentID, at))
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.Payment{}, false, nil
		}

		if isUniqueViolation(err) {
			return entity.Payment{}, false, fmt.Errorf("%w: payment %s already captured", entity.ErrInvalidTransition, paymentID)
		}

		return entity.Payment{}, false, fmt.Errorf("capture payment: %w", err)
	}

	return p, true, nil
}

// PendingPayments returns payments created within [from, to) that may still capture: unconfirmed
// ones and failed attempts the payer may have retried on the same order.
func (r *Repository) PendingPayments(ctx context.Context, from, to time.Time) ([]entity.Payment, error) {
	q := selectPayment + ` WHERE (status IN ('created', 'authorized')
		OR status = 'failed' AND failure_reason IS DISTINCT FROM $3)
	AND created_at >= $1 AND created_at < $2
	ORDER BY created_at`

	rows, err := r.conn(ctx).Query(ctx, q, from, to, entity.FailureExpired)
	if err != nil {
		return nil, fmt.Errorf("select pending payments: %w", err)
	}

	defer rows.Close()

	var payments []entity.Payment

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}

		payments = append(payments, p)
	}

	return payments, rows.Err()
}

// ExpirePayments fails payments never attempted at the gateway before the cutoff.
func (r *Repository) ExpirePayments(ctx context.Context, createdBefore, at time.Time, reason string) (int64, error) {
	const q = `
	UPDATE payments SET status = 'failed', failure_reason = $1, updated_at = $2
	WHERE status = 'created' AND created_at < $3
	`

	result, err := r.conn(ctx).Exec(ctx, q, reason, at, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("expire payments: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *Repository) InvoicePayments(
	ctx context.Context,
	invoiceID uuid.UUID,
	f entity.PaymentFilter,
) ([]entity.Payment, int, error) {
	stmt := sq.Select(
		"id",
		"invoice_id",
		"gateway_order_id",
		"gateway_payment_id",
		"amount",
		"amount_refunded",
		"currency",
		"status",
		"receipt",
		"failure_reason",
		"created_at",
		"updated_at",
		"confirmed_at",
		"COUNT(*) OVER() AS total_count",
	).From("payments").Where(sq.Eq{"invoice_id": invoiceID}).PlaceholderFormat(sq.Dollar)

	if f.Status != nil {
		stmt = stmt.Where(sq.Eq{"status": *f.Status})
	}

	stmt = stmt.
		Limit(f.Limit).
		Offset(f.Offset()).
		OrderBy(fmt.Sprintf("%s %s", f.SortBy, f.OrderBy))

	sql, args, err := stmt.ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	payments := make([]entity.Payment, 0, f.Limit)

	var totalCount int

	for rows.Next() {
		var p entity.Payment

		err = rows.Scan(append(paymentDest(&p), &totalCount)...)
		if err != nil {
			return nil, 0, err
		}

		payments = append(payments, p)
	}

	return payments, totalCount, rows.Err()
}

func paymentDest(p *entity.Payment) []any {
	return []any{
		&p.ID,
		&p.InvoiceID,
		&p.GatewayOrderID,
		(*zeronull.Text)(&p.GatewayPaymentID),
		&p.Amount,
		&p.AmountRefunded,
		&p.Currency,
		&p.Status,
		&p.Receipt,
		(*zeronull.Text)(&p.FailureReason),
		&p.CreatedAt,
		&p.UpdatedAt,
		(*zeronull.Timestamptz)(&p.ConfirmedAt),
	}
}

func scanPayment(row pgx.Row) (p entity.Payment, err error) {
	err = row.Scan(paymentDest(&p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Payment{}, entity.ErrNotFound
		}

		return entity.Payment{}, err
	}

	return p, nil
}

func statusStrings(statuses []entity.PaymentStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, s.String())
	}

	return res
}

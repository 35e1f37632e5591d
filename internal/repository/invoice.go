package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

func (r *Repository) CreateInvoice(ctx context.Context, inv entity.Invoice) error {
	const q = `
	INSERT INTO invoices (
		id,
		number,
		currency,
		total,
		total_paid,
		payment_status,
		workflow_status,
		created_at,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.conn(ctx).Exec(
		ctx,
		q,
		inv.ID,
		inv.Number,
		inv.Currency,
		inv.Total,
		inv.TotalPaid,
		inv.PaymentStatus,
		inv.WorkflowStatus,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	return nil
}

func (r *Repository) Invoice(ctx context.Context, id uuid.UUID) (entity.Invoice, error) {
	q := selectInvoice + " WHERE id = $1"
	return scanInvoice(r.conn(ctx).QueryRow(ctx, q, id))
}

// InvoiceForUpdate locks the invoice row until the surrounding transaction ends.
func (r *Repository) InvoiceForUpdate(ctx context.Context, id uuid.UUID) (entity.Invoice, error) {
	q := selectInvoice + " WHERE id = $1 FOR UPDATE"
	return scanInvoice(r.conn(ctx).QueryRow(ctx, q, id))
}

// UpdateInvoiceLedger writes the payment ledger fields only. The workflow status belongs to the invoice CRUD.
func (r *Repository) UpdateInvoiceLedger(ctx context.Context, inv entity.Invoice) error {
	const q = `UPDATE invoices SET total_paid = $1, payment_status = $2, updated_at = $3 WHERE id = $4`

	result, err := r.conn(ctx).Exec(ctx, q, inv.TotalPaid, inv.PaymentStatus, inv.UpdatedAt, inv.ID)
	if err != nil {
		return fmt.Errorf("update invoice ledger: %w", err)
	}

	if result.RowsAffected() == 0 {
		return entity.ErrNotFound
	}

	return nil
}

func scanInvoice(row pgx.Row) (inv entity.Invoice, err error) {
	err = row.Scan(
		&inv.ID,
		&inv.Number,
		&inv.Currency,
		&inv.Total,
		&inv.TotalPaid,
		&inv.PaymentStatus,
		&inv.WorkflowStatus,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Invoice{}, entity.ErrNotFound
		}

		return entity.Invoice{}, err
	}

	return inv, nil
}

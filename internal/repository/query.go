package repository

const (
	selectInvoice = `SELECT
		id,
		number,
		currency,
		total,
		total_paid,
		payment_status,
		workflow_status,
		created_at,
		updated_at
	FROM invoices`

	paymentColumns = `
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
		confirmed_at`

	selectPayment = `SELECT` + paymentColumns + ` FROM payments`
)

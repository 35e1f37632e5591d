package entity_test

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/samandr77/microservices/billing/internal/entity"
)

func TestInvoice_ApplyConfirmedPayment(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name             string
		total            int64
		totalPaid        int64
		amount           int64
		allowOverpayment bool
		wantErr          error
		wantTotalPaid    int64
		wantStatus       entity.InvoicePaymentStatus
	}{
		{
			name:          "full payment",
			total:         2360,
			amount:        2360,
			wantTotalPaid: 2360,
			wantStatus:    entity.InvoicePaid,
		},
		{
			name:          "partial payment",
			total:         2360,
			amount:        1000,
			wantTotalPaid: 1000,
			wantStatus:    entity.InvoicePartiallyPaid,
		},
		{
			name:          "remaining balance",
			total:         2360,
			totalPaid:     1000,
			amount:        1360,
			wantTotalPaid: 2360,
			wantStatus:    entity.InvoicePaid,
		},
		{
			name:          "zero amount",
			total:         2360,
			amount:        0,
			wantErr:       entity.ErrInvalidAmount,
			wantTotalPaid: 0,
			wantStatus:    entity.InvoiceUnpaid,
		},
		{
			name:          "negative amount",
			total:         2360,
			amount:        -5,
			wantErr:       entity.ErrInvalidAmount,
			wantTotalPaid: 0,
			wantStatus:    entity.InvoiceUnpaid,
		},
		{
			name:          "overpayment rejected",
			total:         2360,
			totalPaid:     2000,
			amount:        1000,
			wantErr:       entity.ErrOverpayment,
			wantTotalPaid: 2000,
			wantStatus:    entity.InvoicePartiallyPaid,
		},
		{
			name:             "overpayment allowed",
			total:            2360,
			totalPaid:        2000,
			amount:           1000,
			allowOverpayment: true,
			wantTotalPaid:    3000,
			wantStatus:       entity.InvoicePaid,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv := entity.Invoice{ID: uuid.Must(uuid.NewV4()), Total: tt.total, TotalPaid: tt.totalPaid}
			inv.Recompute()

			err := inv.ApplyConfirmedPayment(tt.amount, tt.allowOverpayment)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantTotalPaid, inv.TotalPaid)
			require.Equal(t, tt.wantStatus, inv.PaymentStatus)
			require.Equal(t, inv.Total-inv.TotalPaid, inv.RemainingBalance())
		})
	}
}

func TestInvoice_Surplus(t *testing.T) {
	t.Parallel()

	inv := entity.Invoice{Total: 2360, TotalPaid: 2000}
	require.NoError(t, inv.ApplyConfirmedPayment(1000, true))
	require.Equal(t, int64(640), inv.Surplus())
	require.Equal(t, int64(-640), inv.RemainingBalance())
	require.Equal(t, entity.InvoicePaid, inv.PaymentStatus)
}

func TestInvoice_ApplyRefund(t *testing.T) {
	t.Parallel()

	inv := entity.Invoice{Total: 2360, TotalPaid: 2360, PaymentStatus: entity.InvoicePaid}

	require.NoError(t, inv.ApplyRefund(1000))
	require.Equal(t, int64(1360), inv.TotalPaid)
	require.Equal(t, entity.InvoicePartiallyPaid, inv.PaymentStatus)

	require.ErrorIs(t, inv.ApplyRefund(5000), entity.ErrInvalidAmount)
	require.ErrorIs(t, inv.ApplyRefund(0), entity.ErrInvalidAmount)
	require.Equal(t, int64(1360), inv.TotalPaid)

	require.NoError(t, inv.ApplyRefund(1360))
	require.Equal(t, entity.InvoiceUnpaid, inv.PaymentStatus)
	require.Equal(t, int64(2360), inv.RemainingBalance())
}

// The status must agree with the balance for every reachable ledger state.
func TestInvoice_BalanceInvariant(t *testing.T) {
	t.Parallel()

	inv := entity.Invoice{Total: 2360}
	inv.Recompute()

	steps := []struct {
		refund bool
		amount int64
	}{
		{amount: 500}, {amount: 500}, {refund: true, amount: 200}, {amount: 1560},
		{refund: true, amount: 2360}, {amount: 2360}, {amount: 1}, {refund: true, amount: 1},
	}

	for _, s := range steps {
		if s.refund {
			_ = inv.ApplyRefund(s.amount)
		} else {
			_ = inv.ApplyConfirmedPayment(s.amount, false)
		}

		require.Equal(t, inv.Total-inv.TotalPaid, inv.RemainingBalance())
		require.Equal(t, inv.RemainingBalance() <= 0, inv.PaymentStatus == entity.InvoicePaid)
		require.LessOrEqual(t, inv.TotalPaid, inv.Total)
		require.GreaterOrEqual(t, inv.TotalPaid, int64(0))
	}
}

package entity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/internal/testutil"
)

func TestClientInfo_OrderNotes(t *testing.T) {
	t.Parallel()

	inv := testutil.NewInvoice(2360)

	require.Equal(t, map[string]string{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
	}, entity.ClientInfo{}.OrderNotes(inv))

	require.Equal(t, map[string]string{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
		"client_name":    "Acme",
		"client_contact": "+919876543210",
	}, entity.ClientInfo{Name: "Acme", Contact: "+919876543210"}.OrderNotes(inv))
}

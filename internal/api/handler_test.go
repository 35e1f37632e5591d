package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/samandr77/microservices/billing/internal/api"
	"github.com/samandr77/microservices/billing/internal/clients/razorpay"
	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/internal/mocks"
	"github.com/samandr77/microservices/billing/internal/service"
	"github.com/samandr77/microservices/billing/internal/testutil"
	"github.com/samandr77/microservices/billing/pkg/security"
)

const (
	testAPIKey    = "dev"
	testJWTSecret = "jwt_secret"
)

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	c := NewTester(t)

	code, body := c.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK\n", string(body))
}

func TestHandler_CreateOrder(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)

	notes := map[string]string{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
		"client_name":    "Acme",
		"client_email":   "billing@acme.in",
	}

	c.gatewayMock.EXPECT().CreateOrder(gomock.Any(), int64(2360), "INR", gomock.Any(), notes).
		DoAndReturn(func(_ context.Context, amount int64, currency, receipt string, _ map[string]string) (entity.GatewayOrder, error) {
			return entity.GatewayOrder{ID: "order_A", Amount: amount, Currency: currency, Receipt: receipt}, nil
		})
	c.gatewayMock.EXPECT().PublicKey().Return("rzp_test_key")

	code, body := c.do(t, http.MethodPost, "/api/v1/payments/orders",
		map[string]any{
			"invoiceId": inv.ID,
			"amount":    2360,
			"currency":  "INR",
			"client":    map[string]string{"name": "Acme", "email": "billing@acme.in"},
		},
		apiKeyHeader(),
	)
	require.Equal(t, http.StatusCreated, code, string(body))

	var resp api.CreateOrderResponse
	require.NoError(t, json.Unmarshal(body, &resp))

	require.NotZero(t, resp.PaymentID)
	require.Equal(t, "order_A", resp.RazorpayOrderID)
	require.Equal(t, "rzp_test_key", resp.RazorpayKeyID)
	require.Equal(t, int64(2360), resp.Amount)
	require.Equal(t, "23.60", resp.AmountFormatted)
	require.Equal(t, "INR", resp.Currency)
	require.NotEmpty(t, resp.Receipt)
	require.LessOrEqual(t, len(resp.Receipt), entity.MaxReceiptLength)
}

func TestHandler_CreateOrder_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     func(inv entity.Invoice) any
		gateway  func(m *mocks.MockGateway)
		wantCode int
	}{
		{
			name: "unknown field",
			body: func(inv entity.Invoice) any {
				return map[string]any{"invoiceId": inv.ID, "amount": 2360, "tip": 10}
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing invoice id",
			body:     func(entity.Invoice) any { return map[string]any{"amount": 2360} },
			wantCode: http.StatusBadRequest,
		},
		{
			name: "invalid email",
			body: func(inv entity.Invoice) any {
				return map[string]any{"invoiceId": inv.ID, "amount": 2360, "client": map[string]string{"email": "nope"}}
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown invoice",
			body: func(entity.Invoice) any {
				return map[string]any{"invoiceId": uuid.Must(uuid.NewV4()), "amount": 2360}
			},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "zero amount",
			body:     func(inv entity.Invoice) any { return map[string]any{"invoiceId": inv.ID, "amount": 0} },
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "partial amount",
			body:     func(inv entity.Invoice) any { return map[string]any{"invoiceId": inv.ID, "amount": 1000} },
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "currency mismatch",
			body: func(inv entity.Invoice) any {
				return map[string]any{"invoiceId": inv.ID, "amount": 2360, "currency": "USD"}
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "gateway unavailable",
			body: func(inv entity.Invoice) any { return map[string]any{"invoiceId": inv.ID, "amount": 2360} },
			gateway: func(m *mocks.MockGateway) {
				m.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(entity.GatewayOrder{}, entity.ErrGatewayUnavailable).Times(3)
			},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name: "gateway rejected",
			body: func(inv entity.Invoice) any { return map[string]any{"invoiceId": inv.ID, "amount": 2360} },
			gateway: func(m *mocks.MockGateway) {
				m.EXPECT().CreateOrder(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(entity.GatewayOrder{}, fmt.Errorf("%w: bad key", entity.ErrGatewayRejected))
			},
			wantCode: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewTester(t)
			inv := c.seedInvoice(t, 2360)

			if tt.gateway != nil {
				tt.gateway(c.gatewayMock)
			}

			code, body := c.do(t, http.MethodPost, "/api/v1/payments/orders", tt.body(inv), apiKeyHeader())
			require.Equal(t, tt.wantCode, code, string(body))

			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestHandler_CreateOrder_AlreadyPaid(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := testutil.NewInvoice(2360)
	inv.TotalPaid = 2360
	inv.PaymentStatus = entity.InvoicePaid
	require.NoError(t, c.store.CreateInvoice(context.Background(), inv))

	code, body := c.do(t, http.MethodPost, "/api/v1/payments/orders",
		map[string]any{"invoiceId": inv.ID, "amount": 2360}, apiKeyHeader())
	require.Equal(t, http.StatusConflict, code, string(body))
}

func TestHandler_Auth(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)
	path := "/api/v1/invoices/" + inv.ID.String() + "/payments"

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
	}{
		{name: "no credentials", wantCode: http.StatusUnauthorized},
		{name: "wrong api key", headers: map[string]string{"X-Api-Key": "wrong"}, wantCode: http.StatusUnauthorized},
		{name: "api key", headers: apiKeyHeader(), wantCode: http.StatusOK},
		{
			name:     "bearer token",
			headers:  bearerHeader(t, testJWTSecret, "invoices-service", time.Hour),
			wantCode: http.StatusOK,
		},
		{
			name:     "token signed with another secret",
			headers:  bearerHeader(t, "other", "invoices-service", time.Hour),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired token",
			headers:  bearerHeader(t, testJWTSecret, "invoices-service", -time.Minute),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "token without subject",
			headers:  bearerHeader(t, testJWTSecret, "", time.Hour),
			wantCode: http.StatusUnauthorized,
		},
		{name: "malformed bearer", headers: map[string]string{"Authorization": "Bearer abc"}, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := c.do(t, http.MethodGet, path, nil, tt.headers)
			require.Equal(t, tt.wantCode, code, string(body))
		})
	}
}

func TestHandler_Verify(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)
	p := c.seedPayment(t, inv, "order_V", 2360)

	c.ledgerMock.EXPECT().Send(gomock.Any(), inv.ID.String(), gomock.Any()).Return(nil).Times(1)

	req := map[string]any{
		"invoiceId":           inv.ID,
		"razorpay_order_id":   p.GatewayOrderID,
		"razorpay_payment_id": "pay_V",
		"razorpay_signature":  security.Sign([]byte(p.GatewayOrderID+"|pay_V"), testutil.KeySecret),
	}

	code, body := c.do(t, http.MethodPost, "/api/v1/payments/verify", req, apiKeyHeader())
	require.Equal(t, http.StatusOK, code, string(body))

	var resp api.PaymentStateResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, api.PaymentStateResponse{
		InvoiceID:                 inv.ID,
		PaymentStatus:             "paid",
		TotalPaid:                 2360,
		TotalPaidFormatted:        "23.60",
		RemainingBalance:          0,
		RemainingBalanceFormatted: "0.00",
	}, resp)

	code, body = c.do(t, http.MethodPost, "/api/v1/payments/verify", req, apiKeyHeader())
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &resp))
	require.True(t, resp.Replayed)
	require.Equal(t, int64(2360), resp.TotalPaid)
}

func TestHandler_Verify_Error(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)
	p := c.seedPayment(t, inv, "order_W", 2360)

	t.Run("forged signature", func(t *testing.T) {
		code, body := c.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
			"invoiceId":           inv.ID,
			"razorpay_order_id":   p.GatewayOrderID,
			"razorpay_payment_id": "pay_W",
			"razorpay_signature":  security.Sign([]byte(p.GatewayOrderID+"|pay_W"), "wrong"),
		}, apiKeyHeader())
		require.Equal(t, http.StatusBadRequest, code)
		require.JSONEq(t, `{"message":"payment verification failed"}`, string(body))
	})

	t.Run("unknown order", func(t *testing.T) {
		code, body := c.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
			"invoiceId":           inv.ID,
			"razorpay_order_id":   "order_missing",
			"razorpay_payment_id": "pay_W",
			"razorpay_signature":  security.Sign([]byte("order_missing|pay_W"), testutil.KeySecret),
		}, apiKeyHeader())
		require.Equal(t, http.StatusNotFound, code, string(body))
	})

	t.Run("missing signature", func(t *testing.T) {
		code, body := c.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
			"invoiceId":           inv.ID,
			"razorpay_order_id":   p.GatewayOrderID,
			"razorpay_payment_id": "pay_W",
		}, apiKeyHeader())
		require.Equal(t, http.StatusBadRequest, code, string(body))
	})

	require.Zero(t, invoiceTotalPaid(t, c.store, inv.ID))
}

func TestHandler_RazorpayWebhook(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)
	p := c.seedPayment(t, inv, "order_H", 2360)

	c.ledgerMock.EXPECT().Send(gomock.Any(), inv.ID.String(), gomock.Any()).Return(nil).Times(1)

	captured := []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":`+
		`{"id":"pay_H","order_id":%q,"amount":2360,"currency":"INR","status":"captured"}}}}`, p.GatewayOrderID))

	code, body := c.webhook(t, captured, webhookSignature(captured), "evt_H")
	require.Equal(t, http.StatusOK, code, string(body))
	require.JSONEq(t, `{"event":"payment.captured","outcome":"applied"}`, string(body))

	code, body = c.webhook(t, captured, webhookSignature(captured), "evt_H")
	require.Equal(t, http.StatusOK, code, string(body))
	require.JSONEq(t, `{"event":"payment.captured","outcome":"duplicate"}`, string(body))

	require.Equal(t, int64(2360), invoiceTotalPaid(t, c.store, inv.ID))
}

func TestHandler_RazorpayWebhook_Error(t *testing.T) {
	t.Parallel()

	unknownOrder := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":` +
		`{"id":"pay_X","order_id":"order_X","amount":100,"currency":"INR","status":"captured"}}}}`)
	refundFirst := []byte(`{"event":"refund.created","payload":{"refund":{"entity":` +
		`{"id":"rfnd_X","payment_id":"pay_X","amount":100,"currency":"INR","status":"processed"}}}}`)
	malformed := []byte(`{"event":"payment.captured","payload":`)
	withoutOrder := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":` +
		`{"id":"pay_QR","amount":100,"currency":"INR","status":"captured"}}}}`)
	emptyRefund := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":` +
		`{"id":"rfnd_Z","payment_id":"pay_X","amount":0,"currency":"INR","status":"processed"}}}}`)
	unmodelled := []byte(`{"event":"payment.dispute.created","payload":{}}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		wantCode  int
		wantBody  string
	}{
		{
			name:      "forged signature",
			body:      unknownOrder,
			signature: security.Sign(unknownOrder, "wrong"),
			wantCode:  http.StatusBadRequest,
			wantBody:  `{"message":"invalid signature"}`,
		},
		{name: "missing signature", body: unknownOrder, wantCode: http.StatusBadRequest, wantBody: `{"message":"invalid signature"}`},
		{
			name:      "malformed payload",
			body:      malformed,
			signature: webhookSignature(malformed),
			wantCode:  http.StatusOK,
			wantBody:  `{"outcome":"rejected"}`,
		},
		{
			name:      "capture without order",
			body:      withoutOrder,
			signature: webhookSignature(withoutOrder),
			wantCode:  http.StatusOK,
			wantBody:  `{"event":"payment.captured","outcome":"rejected"}`,
		},
		{
			name:      "refund of nothing",
			body:      emptyRefund,
			signature: webhookSignature(emptyRefund),
			wantCode:  http.StatusOK,
			wantBody:  `{"event":"refund.processed","outcome":"rejected"}`,
		},
		{
			name:      "unknown order",
			body:      unknownOrder,
			signature: webhookSignature(unknownOrder),
			wantCode:  http.StatusOK,
			wantBody:  `{"event":"payment.captured","outcome":"rejected"}`,
		},
		{
			name:      "refund before capture",
			body:      refundFirst,
			signature: webhookSignature(refundFirst),
			wantCode:  http.StatusServiceUnavailable,
		},
		{
			name:      "unmodelled event",
			body:      unmodelled,
			signature: webhookSignature(unmodelled),
			wantCode:  http.StatusOK,
			wantBody:  `{"event":"payment.dispute.created","outcome":"ignored"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewTester(t)

			code, body := c.webhook(t, tt.body, tt.signature, "")
			require.Equal(t, tt.wantCode, code, string(body))

			if tt.wantBody != "" {
				require.JSONEq(t, tt.wantBody, string(body))
			}

			require.Zero(t, c.store.Mutations())
		})
	}
}

func TestHandler_InvoicePayments(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)
	first := c.seedPayment(t, inv, "order_L1", 2360)
	second := c.seedPayment(t, inv, "order_L2", 2360)

	_, err := c.store.MarkStatus(context.Background(), first.ID, entity.PaymentFailed, entity.PaymentUpdate{
		GatewayPaymentID: "pay_L1",
		FailureReason:    "card declined",
		UpdatedAt:        time.Now(),
	})
	require.NoError(t, err)

	code, body := c.do(t, http.MethodGet,
		"/api/v1/invoices/"+inv.ID.String()+"/payments?status=created&limit=5", nil, apiKeyHeader())
	require.Equal(t, http.StatusOK, code, string(body))

	var resp api.InvoicePaymentsResponse
	require.NoError(t, json.Unmarshal(body, &resp))

	require.Equal(t, 1, resp.TotalCount)
	require.Len(t, resp.Payments, 1)
	require.Equal(t, second.ID, resp.Payments[0].ID)
	require.Equal(t, "created", resp.Payments[0].Status)
	require.Equal(t, "23.60", resp.Payments[0].AmountFormatted)
	require.Nil(t, resp.Payments[0].ConfirmedAt)

	require.Equal(t, inv.ID, resp.Invoice.ID)
	require.Equal(t, int64(2360), resp.Invoice.RemainingBalance)
	require.Equal(t, "23.60", resp.Invoice.RemainingBalanceFormatted)
	require.Equal(t, "unpaid", resp.Invoice.PaymentStatus)

	code, body = c.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/payments", nil, apiKeyHeader())
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, 2, resp.TotalCount)
}

func TestHandler_InvoicePayments_Error(t *testing.T) {
	t.Parallel()

	c := NewTester(t)
	inv := c.seedInvoice(t, 2360)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "invalid id", path: "/api/v1/invoices/abc/payments", wantCode: http.StatusBadRequest},
		{name: "invalid status", path: "/api/v1/invoices/" + inv.ID.String() + "/payments?status=paid", wantCode: http.StatusBadRequest},
		{name: "unknown invoice", path: "/api/v1/invoices/" + uuid.Must(uuid.NewV4()).String() + "/payments", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := c.do(t, http.MethodGet, tt.path, nil, apiKeyHeader())
			require.Equal(t, tt.wantCode, code, string(body))
		})
	}
}

type Tester struct {
	server      *httptest.Server
	store       *testutil.Store
	gatewayMock *mocks.MockGateway
	ledgerMock  *mocks.MockProducer
}

func NewTester(t *testing.T) Tester {
	t.Helper()

	ctrl := gomock.NewController(t)
	gatewayMock := mocks.NewMockGateway(ctrl)
	ledgerMock := mocks.NewMockProducer(ctrl)
	store := testutil.NewStore()

	s := service.New(service.Config{
		CreateOrderAttempts: 3,
		RetryBaseDelay:      time.Millisecond,
	}, store, gatewayMock, razorpay.NewSignatures(testutil.KeySecret, testutil.WebhookSecret), ledgerMock)

	handler := api.NewHandler(s)
	mw := api.NewMiddleware(true, testAPIKey, testJWTSecret)

	server := httptest.NewServer(api.NewRouter(handler, mw))
	t.Cleanup(server.Close)

	return Tester{
		server:      server,
		store:       store,
		gatewayMock: gatewayMock,
		ledgerMock:  ledgerMock,
	}
}

func (c Tester) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var reqBody io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)

		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.server.URL+path, reqBody)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func (c Tester) webhook(t *testing.T, body []byte, signature, eventID string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		c.server.URL+"/api/v1/webhooks/razorpay", bytes.NewReader(body))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}

	if eventID != "" {
		req.Header.Set("X-Razorpay-Event-Id", eventID)
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func (c Tester) seedInvoice(t *testing.T, total int64) entity.Invoice {
	t.Helper()

	inv := testutil.NewInvoice(total)
	require.NoError(t, c.store.CreateInvoice(context.Background(), inv))

	return inv
}

func (c Tester) seedPayment(t *testing.T, inv entity.Invoice, orderID string, amount int64) entity.Payment {
	t.Helper()

	p := testutil.NewPayment(inv, orderID, amount)
	require.NoError(t, c.store.CreatePayment(context.Background(), p))

	return p
}

func invoiceTotalPaid(t *testing.T, store *testutil.Store, id uuid.UUID) int64 {
	t.Helper()

	inv, err := store.Invoice(context.Background(), id)
	require.NoError(t, err)

	return inv.TotalPaid
}

func apiKeyHeader() map[string]string {
	return map[string]string{"X-Api-Key": testAPIKey}
}

func bearerHeader(t *testing.T, secret, subject string, ttl time.Duration) map[string]string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	return map[string]string{"Authorization": "Bearer " + token}
}

func webhookSignature(body []byte) string {
	return security.Sign(body, testutil.WebhookSecret)
}

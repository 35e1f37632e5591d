package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// @title Billing API
// @version 1.0
// @description Razorpay payment orders, confirmations and webhook reconciliation for invoices
// @BasePath /billing/api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-Api-Key

type Service interface {
	CreateOrder(ctx context.Context, req entity.CreateOrderRequest) (entity.CreatedOrder, error)
	Verify(ctx context.Context, req entity.VerifyRequest) (entity.PaymentState, error)
	HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (entity.WebhookResult, error)
	InvoicePayments(ctx context.Context, invoiceID uuid.UUID, f entity.PaymentFilter) (entity.Invoice, []entity.Payment, int, error)
}

type Handler struct {
	s Service
}

func NewHandler(s Service) *Handler {
	return &Handler{s: s}
}

type ClientInfo struct {
	Name    string `json:"name" validate:"max=100"`
	Email   string `json:"email" validate:"omitempty,email"`
	Contact string `json:"contact" validate:"max=20"`
}

type CreateOrderRequest struct {
	InvoiceID uuid.UUID   `json:"invoiceId" validate:"required"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency" validate:"omitempty,len=3,uppercase"`
	Client    *ClientInfo `json:"client"`
}

type CreateOrderResponse struct {
	PaymentID       uuid.UUID `json:"paymentId"`
	RazorpayOrderID string    `json:"razorpayOrderId"`
	RazorpayKeyID   string    `json:"razorpayKeyId"`
	Amount          int64     `json:"amount"`
	AmountFormatted string    `json:"amountFormatted"`
	Currency        string    `json:"currency"`
	Receipt         string    `json:"receipt"`
}

// CreateOrder opens a gateway order for the remaining balance of an invoice
// @Summary Create payment order
// @Description Creates a Razorpay order for the full remaining balance of the invoice. Amounts are in minor units.
// @Tags payments
// @Accept json
// @Produce json
// @Param CreateOrderRequest body CreateOrderRequest true "Order creation request"
// @Success 201 {object} CreateOrderResponse
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 404 {object} ErrorResponse "Invoice not found"
// @Failure 409 {object} ErrorResponse "Invoice already paid"
// @Failure 422 {object} ErrorResponse "Amount does not match remaining balance"
// @Failure 502 {object} ErrorResponse "Gateway rejected the order"
// @Failure 503 {object} ErrorResponse "Gateway unavailable"
// @Failure 500 {object} ErrorResponse "Failed to create order"
// @Router /v1/payments/orders [post]
// @Security ApiKeyAuth
// @Security BearerAuth
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateOrderRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		SendJSONErr(ctx, w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	in := entity.CreateOrderRequest{
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}

	if req.Client != nil {
		in.ClientInfo = entity.ClientInfo{
			Name:    req.Client.Name,
			Email:   req.Client.Email,
			Contact: req.Client.Contact,
		}
	}

	order, err := h.s.CreateOrder(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrInvoiceNotFound):
			SendJSONErr(ctx, w, http.StatusNotFound, err, "invoice not found")
		case errors.Is(err, entity.ErrAlreadyPaid):
			SendJSONErr(ctx, w, http.StatusConflict, err, "invoice is already paid")
		case errors.Is(err, entity.ErrDuplicateOrder):
			SendJSONErr(ctx, w, http.StatusConflict, err, "order already registered")
		case errors.Is(err, entity.ErrAmountMismatch):
			SendJSONErr(ctx, w, http.StatusUnprocessableEntity, err, "amount must equal the remaining balance")
		case errors.Is(err, entity.ErrInvalidAmount):
			SendJSONErr(ctx, w, http.StatusUnprocessableEntity, err, "amount must be positive")
		case errors.Is(err, entity.ErrInvalidArgument):
			SendJSONErr(ctx, w, http.StatusBadRequest, err, "invalid request")
		case errors.Is(err, entity.ErrGatewayUnavailable):
			SendJSONErr(ctx, w, http.StatusServiceUnavailable, err, "payment gateway is unavailable, try again later")
		case errors.Is(err, entity.ErrGatewayRejected):
			SendJSONErr(ctx, w, http.StatusBadGateway, err, "payment gateway rejected the order")
		default:
			SendJSONErr(ctx, w, http.StatusInternalServerError, err, "failed to create order")
		}

		return
	}

	SendJSON(ctx, w, http.StatusCreated, CreateOrderResponse{
		PaymentID:       order.PaymentID,
		RazorpayOrderID: order.GatewayOrderID,
		RazorpayKeyID:   order.GatewayPublicKey,
		Amount:          order.Amount,
		AmountFormatted: entity.FormatAmount(order.Amount),
		Currency:        order.Currency,
		Receipt:         order.Receipt,
	})
}

// VerifyRequest carries the fields the checkout widget returns on success.
type VerifyRequest struct {
	InvoiceID         uuid.UUID `json:"invoiceId" validate:"required"`
	RazorpayOrderID   string    `json:"razorpay_order_id" validate:"required"`
	RazorpayPaymentID string    `json:"razorpay_payment_id" validate:"required"`
	RazorpaySignature string    `json:"razorpay_signature" validate:"required"`
}

type PaymentStateResponse struct {
	InvoiceID                 uuid.UUID `json:"invoiceId"`
	PaymentStatus             string    `json:"paymentStatus"`
	TotalPaid                 int64     `json:"totalPaid"`
	TotalPaidFormatted        string    `json:"totalPaidFormatted"`
	RemainingBalance          int64     `json:"remainingBalance"`
	RemainingBalanceFormatted string    `json:"remainingBalanceFormatted"`
	Replayed                  bool      `json:"replayed"`
}

// Verify confirms a checkout payment and applies it to the invoice
// @Summary Verify payment
// @Description Checks the checkout signature and applies the captured payment to the invoice. Repeated calls return the current state.
// @Tags payments
// @Accept json
// @Produce json
// @Param VerifyRequest body VerifyRequest true "Checkout confirmation"
// @Success 200 {object} PaymentStateResponse
// @Failure 400 {object} ErrorResponse "Invalid request or signature"
// @Failure 404 {object} ErrorResponse "Order not found"
// @Failure 409 {object} ErrorResponse "Payment cannot be applied"
// @Failure 500 {object} ErrorResponse "Failed to verify payment"
// @Router /v1/payments/verify [post]
// @Security ApiKeyAuth
// @Security BearerAuth
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VerifyRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		SendJSONErr(ctx, w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	state, err := h.s.Verify(ctx, entity.VerifyRequest{
		InvoiceID:        req.InvoiceID,
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
	})
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrSignatureInvalid):
			SendJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Message: "payment verification failed"})
		case errors.Is(err, entity.ErrOrderNotFound), errors.Is(err, entity.ErrInvoiceNotFound):
			SendJSONErr(ctx, w, http.StatusNotFound, err, "order not found")
		case errors.Is(err, entity.ErrOverpayment):
			SendJSONErr(ctx, w, http.StatusConflict, err, "payment exceeds the remaining balance")
		case errors.Is(err, entity.ErrInvalidTransition):
			SendJSONErr(ctx, w, http.StatusConflict, err, "payment cannot be applied")
		default:
			SendJSONErr(ctx, w, http.StatusInternalServerError, err, "failed to verify payment")
		}

		return
	}

	SendJSON(ctx, w, http.StatusOK, stateToAPI(state))
}

type WebhookResponse struct {
	Event   string `json:"event,omitempty"`
	Outcome string `json:"outcome"`
}

// RazorpayWebhook receives gateway notifications
// @Summary Razorpay webhook
// @Description Authenticates the notification with X-Razorpay-Signature and reconciles the invoice ledger.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the raw body"
// @Param X-Razorpay-Event-Id header string false "Gateway event id"
// @Success 200 {object} WebhookResponse
// @Failure 400 {object} ErrorResponse "Invalid signature"
// @Failure 503 {object} ErrorResponse "Retry later"
// @Failure 500 {object} ErrorResponse "Failed to process webhook"
// @Router /v1/webhooks/razorpay [post]
func (h *Handler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		SendJSONErr(ctx, w, http.StatusBadRequest, err, "read request body")
		return
	}

	res, err := h.s.HandleWebhook(ctx, body, r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrSignatureInvalid):
			SendJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Message: "invalid signature"})
		case errors.Is(err, entity.ErrPaymentNotCaptured), errors.Is(err, entity.ErrUnavailable):
			SendJSONErr(ctx, w, http.StatusServiceUnavailable, err, "retry later")
		case errors.Is(err, entity.ErrInvalidArgument),
			errors.Is(err, entity.ErrOrderNotFound),
			errors.Is(err, entity.ErrInvoiceNotFound),
			errors.Is(err, entity.ErrOverpayment),
			errors.Is(err, entity.ErrInvalidAmount),
			errors.Is(err, entity.ErrInvalidTransition):
			// Redelivery cannot fix these, so the gateway gets its acknowledgement.
			slog.WarnContext(ctx, "webhook rejected", "event", res.Event, "error", err)
			SendJSON(ctx, w, http.StatusOK, WebhookResponse{Event: res.Event.String(), Outcome: string(entity.WebhookRejected)})
		default:
			SendJSONErr(ctx, w, http.StatusInternalServerError, err, "failed to process webhook")
		}

		return
	}

	SendJSON(ctx, w, http.StatusOK, WebhookResponse{Event: res.Event.String(), Outcome: string(res.Outcome)})
}

type InvoiceLedger struct {
	ID                        uuid.UUID `json:"id"`
	Number                    string    `json:"number"`
	Currency                  string    `json:"currency"`
	Total                     int64     `json:"total"`
	TotalPaid                 int64     `json:"totalPaid"`
	TotalPaidFormatted        string    `json:"totalPaidFormatted"`
	RemainingBalance          int64     `json:"remainingBalance"`
	RemainingBalanceFormatted string    `json:"remainingBalanceFormatted"`
	PaymentStatus             string    `json:"paymentStatus"`
}

type PaymentEntity struct {
	ID                uuid.UUID  `json:"id"`
	RazorpayOrderID   string     `json:"razorpayOrderId"`
	RazorpayPaymentID string     `json:"razorpayPaymentId,omitempty"`
	Amount            int64      `json:"amount"`
	AmountFormatted   string     `json:"amountFormatted"`
	AmountRefunded    int64      `json:"amountRefunded"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Receipt           string     `json:"receipt"`
	FailureReason     string     `json:"failureReason,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
}

type InvoicePaymentsResponse struct {
	Invoice    InvoiceLedger   `json:"invoice"`
	Payments   []PaymentEntity `json:"payments"`
	TotalCount int             `json:"totalCount"`
}

// InvoicePayments returns the ledger of an invoice with its payment attempts
// @Summary Invoice payments
// @Description Returns the invoice ledger snapshot and a page of its payment records
// @Tags payments
// @Produce json
// @Param invoiceId path string true "Invoice ID"
// @Param status query string false "Payment status" Enums(created, authorized, captured, failed, refunded)
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(10)
// @Param sortBy query string false "Sort column" Enums(amount, created_at, status)
// @Param orderBy query string false "Sort order" Enums(asc, desc)
// @Success 200 {object} InvoicePaymentsResponse
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Invoice not found"
// @Failure 500 {object} ErrorResponse "Failed to get payments"
// @Router /v1/invoices/{invoiceId}/payments [get]
// @Security ApiKeyAuth
// @Security BearerAuth
func (h *Handler) InvoicePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invoiceID, err := uuid.FromString(chi.URLParam(r, "invoiceId"))
	if err != nil {
		SendJSONErr(ctx, w, http.StatusBadRequest, err, "'invoiceId' must be a UUID")
		return
	}

	filter, err := parsePaymentFilter(r.URL.Query())
	if err != nil {
		SendJSONErr(ctx, w, http.StatusBadRequest, err, "invalid filter")
		return
	}

	inv, payments, totalCount, err := h.s.InvoicePayments(ctx, invoiceID, filter)
	if err != nil {
		if errors.Is(err, entity.ErrInvoiceNotFound) {
			SendJSONErr(ctx, w, http.StatusNotFound, err, "invoice not found")
			return
		}

		SendJSONErr(ctx, w, http.StatusInternalServerError, err, "failed to get payments")

		return
	}

	SendJSON(ctx, w, http.StatusOK, InvoicePaymentsResponse{
		Invoice:    invoiceToAPI(inv),
		Payments:   paymentsToAPI(payments),
		TotalCount: totalCount,
	})
}

func parsePaymentFilter(url url.Values) (entity.PaymentFilter, error) {
	qStatus := url.Get("status")

	limit, err := strconv.ParseUint(url.Get("limit"), 10, 64)
	if err != nil {
		limit = 0
	}

	page, err := strconv.ParseUint(url.Get("page"), 10, 64)
	if err != nil {
		page = 0
	}

	filter := entity.PaymentFilter{
		Page:    page,
		Limit:   limit,
		SortBy:  entity.PaymentSortCol(url.Get("sortBy")),
		OrderBy: entity.OrderByCol(url.Get("orderBy")),
	}.Normalize()

	if qStatus != "" {
		status := entity.PaymentStatus(qStatus)

		err = status.Validate()
		if err != nil {
			return entity.PaymentFilter{}, fmt.Errorf("parse status: %w", err)
		}

		filter.Status = &status
	}

	return filter, nil
}

func stateToAPI(s entity.PaymentState) PaymentStateResponse {
	return PaymentStateResponse{
		InvoiceID:                 s.InvoiceID,
		PaymentStatus:             s.PaymentStatus.String(),
		TotalPaid:                 s.TotalPaid,
		TotalPaidFormatted:        entity.FormatAmount(s.TotalPaid),
		RemainingBalance:          s.RemainingBalance,
		RemainingBalanceFormatted: entity.FormatAmount(s.RemainingBalance),
		Replayed:                  s.Replayed,
	}
}

func invoiceToAPI(inv entity.Invoice) InvoiceLedger {
	return InvoiceLedger{
		ID:                        inv.ID,
		Number:                    inv.Number,
		Currency:                  inv.Currency,
		Total:                     inv.Total,
		TotalPaid:                 inv.TotalPaid,
		TotalPaidFormatted:        entity.FormatAmount(inv.TotalPaid),
		RemainingBalance:          inv.RemainingBalance(),
		RemainingBalanceFormatted: entity.FormatAmount(inv.RemainingBalance()),
		PaymentStatus:             inv.PaymentStatus.String(),
	}
}

func paymentsToAPI(payments []entity.Payment) []PaymentEntity {
	res := make([]PaymentEntity, 0, len(payments))

	for _, p := range payments {
		pe := PaymentEntity{
			ID:                p.ID,
			RazorpayOrderID:   p.GatewayOrderID,
			RazorpayPaymentID: p.GatewayPaymentID,
			Amount:            p.Amount,
			AmountFormatted:   entity.FormatAmount(p.Amount),
			AmountRefunded:    p.AmountRefunded,
			Currency:          p.Currency,
			Status:            p.Status.String(),
			Receipt:           p.Receipt,
			FailureReason:     p.FailureReason,
			CreatedAt:         p.CreatedAt,
			UpdatedAt:         p.UpdatedAt,
		}

		if !p.ConfirmedAt.IsZero() {
			confirmedAt := p.ConfirmedAt
			pe.ConfirmedAt = &confirmedAt
		}

		res = append(res, pe)
	}

	return res
}

// HealthHandler - returns service health status.
// @Summary Health check
// @Description Health check
// @Tags health
// @Accept text/plain
// @Produce text/plain
// @Success 200 {string} string "OK"
// @Router /health [get]
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, err := w.Write([]byte("OK\n"))
	if err != nil {
		SendJSONErr(ctx, w, http.StatusInternalServerError, err, "write response")
		return
	}
}

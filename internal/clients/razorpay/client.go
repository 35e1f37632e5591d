package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/samandr77/microservices/billing/internal/entity"
	"github.com/samandr77/microservices/billing/pkg/config"
	"github.com/samandr77/microservices/billing/pkg/transport"
)

// Client talks to the Razorpay orders API. Only reads are retried at the transport level.
type Client struct {
	cfg   config.Razorpay
	c     *http.Client
	fetch *http.Client
}

func NewClient(cfg config.Razorpay) *Client {
	c := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport.NewLogRoundTripper(http.DefaultTransport),
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = c
	retryClient.RetryMax = cfg.FetchRetries
	retryClient.RetryWaitMin = time.Millisecond * 200
	retryClient.RetryWaitMax = time.Second * 2
	retryClient.Logger = nil

	return &Client{
		cfg:   cfg,
		c:     c,
		fetch: retryClient.StandardClient(),
	}
}

func (c *Client) PublicKey() string {
	return c.cfg.KeyID
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
}

func (o orderResponse) toEntity() entity.GatewayOrder {
	return entity.GatewayOrder{
		ID:         o.ID,
		Amount:     o.Amount,
		AmountPaid: o.AmountPaid,
		Currency:   o.Currency,
		Receipt:    o.Receipt,
		Status:     entity.GatewayOrderStatus(o.Status),
	}
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentsResponse struct {
	Count int               `json:"count"`
	Items []paymentResponse `json:"items"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateOrder(
	ctx context.Context,
	amount int64,
	currency, receipt string,
	notes map[string]string,
) (entity.GatewayOrder, error) {
	b, err := json.Marshal(createOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return entity.GatewayOrder{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/orders", bytes.NewReader(b))
	if err != nil {
		return entity.GatewayOrder{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	var resp orderResponse

	err = c.do(c.c, req, &resp)
	if err != nil {
		return entity.GatewayOrder{}, fmt.Errorf("create order: %w", err)
	}

	return resp.toEntity(), nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (entity.GatewayOrder, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return entity.GatewayOrder{}, fmt.Errorf("create request: %w", err)
	}

	var resp orderResponse

	err = c.do(c.fetch, req, &resp)
	if err != nil {
		return entity.GatewayOrder{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	return resp.toEntity(), nil
}

func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]entity.GatewayPayment, error) {
	reqURL := c.cfg.BaseURL + "/orders/" + url.PathEscape(orderID) + "/payments"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp paymentsResponse

	err = c.do(c.fetch, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s payments: %w", orderID, err)
	}

	payments := make([]entity.GatewayPayment, 0, len(resp.Items))
	for _, p := range resp.Items {
		payments = append(payments, entity.GatewayPayment{
			ID:       p.ID,
			OrderID:  p.OrderID,
			Amount:   p.Amount,
			Currency: p.Currency,
			Status:   entity.PaymentStatus(p.Status),
		})
	}

	return payments, nil
}

func (c *Client) do(hc *http.Client, req *http.Request, v any) error {
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %w", entity.ErrGatewayUnavailable, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", entity.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", entity.ErrGatewayUnavailable, resp.StatusCode)

	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", entity.ErrGatewayRejected, resp.StatusCode, errorDescription(body))
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

func errorDescription(body []byte) string {
	var e errorResponse

	err := json.Unmarshal(body, &e)
	if err != nil || e.Error.Description == "" {
		return string(body)
	}

	return e.Error.Description
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/samandr77/microservices/billing/internal/entity"
)

//go:generate go run go.uber.org/mock/mockgen@latest -source=service.go -destination=../mocks/service.go -package=mocks

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (entity.GatewayOrder, error)
	FetchOrder(ctx context.Context, orderID string) (entity.GatewayOrder, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]entity.GatewayPayment, error)
	PublicKey() string
}

type Verifier interface {
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

type Producer interface {
	Send(ctx context.Context, key string, v any) error
}

type EventWindow interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

type Config struct {
	AllowOverpayment    bool
	CreateOrderAttempts uint64
	RetryBaseDelay      time.Duration
	PendingOrderAge     time.Duration
	ReconcileWindow     time.Duration
	OrderTTL            time.Duration
}

type Service struct {
	cfg      Config
	repo     Repository
	gateway  Gateway
	verifier Verifier
	ledger   Producer
	queue    Producer
	window   EventWindow
	now      func() time.Time
}

func New(cfg Config, repo Repository, gateway Gateway, verifier Verifier, ledger Producer) *Service {
	if cfg.CreateOrderAttempts == 0 {
		cfg.CreateOrderAttempts = 1
	}

	return &Service{
		cfg:      cfg,
		repo:     repo,
		gateway:  gateway,
		verifier: verifier,
		ledger:   ledger,
		now:      time.Now,
	}
}

// WithEventWindow enables the short-lived webhook event id cache in front of the database.
func (s *Service) WithEventWindow(w EventWindow) *Service {
	s.window = w
	return s
}

// WithWebhookQueue makes HandleWebhook enqueue verified webhooks instead of applying them.
func (s *Service) WithWebhookQueue(q Producer) *Service {
	s.queue = q
	return s
}

func (s *Service) publishLedger(ctx context.Context, kind entity.LedgerEventKind, p entity.Payment, amount int64, inv entity.Invoice) {
	if s.ledger == nil {
		return
	}

	ev := entity.LedgerEvent{
		InvoiceID:        inv.ID,
		PaymentID:        p.ID,
		Kind:             kind,
		Amount:           amount,
		TotalPaid:        inv.TotalPaid,
		RemainingBalance: inv.RemainingBalance(),
		PaymentStatus:    inv.PaymentStatus,
		OccurredAt:       inv.UpdatedAt,
	}

	err := s.ledger.Send(ctx, inv.ID.String(), ev)
	if err != nil {
		slog.ErrorContext(ctx, "publish ledger event", "error", err, "kind", kind, "payment_id", p.ID)
	}
}

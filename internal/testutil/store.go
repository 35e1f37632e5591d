// Package testutil provides an in-memory payment store with the transactional semantics of the
// postgres repository.
package testutil

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/samandr77/microservices/billing/internal/entity"
)

type txKey struct{}

type Store struct {
	// txMu serializes transactions and single statements, like row locks on one invoice would.
	txMu sync.Mutex

	invoices map[uuid.UUID]entity.Invoice
	payments map[uuid.UUID]entity.Payment
	refunds  map[string]entity.Refund
	events   map[string]entity.WebhookEvent

	mutations int
	failure   error
}

func NewStore() *Store {
	return &Store{
		invoices: make(map[uuid.UUID]entity.Invoice),
		payments: make(map[uuid.UUID]entity.Payment),
		refunds:  make(map[string]entity.Refund),
		events:   make(map[string]entity.WebhookEvent),
	}
}

// Fail makes every following call return err. Pass nil to recover.
func (s *Store) Fail(err error) {
	unlock := s.lock(context.Background())
	defer unlock()

	s.failure = err
}

// Mutations counts committed writes.
func (s *Store) Mutations() int {
	unlock := s.lock(context.Background())
	defer unlock()

	return s.mutations
}

// Refunds returns the recorded refunds.
func (s *Store) Refunds() []entity.Refund {
	unlock := s.lock(context.Background())
	defer unlock()

	return slices.Collect(maps.Values(s.refunds))
}

func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}

	s.txMu.Lock()

	return s.txMu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	invoices := maps.Clone(s.invoices)
	payments := maps.Clone(s.payments)
	refunds := maps.Clone(s.refunds)
	events := maps.Clone(s.events)
	mutations := s.mutations

	err := fn(context.WithValue(ctx, txKey{}, s))
	if err != nil {
		s.invoices = invoices
		s.payments = payments
		s.refunds = refunds
		s.events = events
		s.mutations = mutations

		return fmt.Errorf("tx: %w", err)
	}

	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv entity.Invoice) error {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return s.failure
	}

	s.invoices[inv.ID] = inv
	s.mutations++

	return nil
}

func (s *Store) Invoice(ctx context.Context, id uuid.UUID) (entity.Invoice, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return entity.Invoice{}, s.failure
	}

	inv, ok := s.invoices[id]
	if !ok {
		return entity.Invoice{}, entity.ErrNotFound
	}

	return inv, nil
}

func (s *Store) InvoiceForUpdate(ctx context.Context, id uuid.UUID) (entity.Invoice, error) {
	return s.Invoice(ctx, id)
}

func (s *Store) UpdateInvoiceLedger(ctx context.Context, inv entity.Invoice) error {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return s.failure
	}

	stored, ok := s.invoices[inv.ID]
	if !ok {
		return entity.ErrNotFound
	}

	stored.TotalPaid = inv.TotalPaid
	stored.PaymentStatus = inv.PaymentStatus
	stored.UpdatedAt = inv.UpdatedAt
	s.invoices[inv.ID] = stored
	s.mutations++

	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p entity.Payment) error {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return s.failure
	}

	for _, existing := range s.payments {
		if existing.GatewayOrderID == p.GatewayOrderID {
			return fmt.Errorf("%w: gateway order %s", entity.ErrDuplicateOrder, p.GatewayOrderID)
		}
	}

	s.payments[p.ID] = p
	s.mutations++

	return nil
}

func (s *Store) Payment(ctx context.Context, id uuid.UUID) (entity.Payment, error) {
	unlock := s.lock(ctx)
	defer unlock()

	p, ok := s.payments[id]
	if !ok {
		return entity.Payment{}, entity.ErrNotFound
	}

	return p, nil
}

func (s *Store) PaymentByOrderID(ctx context.Context, orderID string) (entity.Payment, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return entity.Payment{}, s.failure
	}

	p, ok := s.byOrderID(orderID)
	if !ok {
		return entity.Payment{}, entity.ErrNotFound
	}

	return p, nil
}

func (s *Store) PaymentByPaymentID(ctx context.Context, paymentID string) (entity.Payment, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return entity.Payment{}, s.failure
	}

	var (
		found entity.Payment
		ok    bool
	)

	for _, p := range s.payments {
		if p.GatewayPaymentID != paymentID {
			continue
		}

		if !ok || isMoney(p) && !isMoney(found) || isMoney(p) == isMoney(found) && p.UpdatedAt.After(found.UpdatedAt) {
			found, ok = p, true
		}
	}

	if !ok {
		return entity.Payment{}, entity.ErrNotFound
	}

	return found, nil
}

func (s *Store) MarkStatus(
	ctx context.Context,
	id uuid.UUID,
	to entity.PaymentStatus,
	upd entity.PaymentUpdate,
) (bool, error) {
	if to == entity.PaymentCaptured || to == entity.PaymentRefunded || len(to.AllowedFrom()) == 0 {
		return false, fmt.Errorf("%w: mark %s", entity.ErrInvalidTransition, to)
	}

	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return false, s.failure
	}

	p, ok := s.payments[id]
	if !ok || !p.Status.CanTransitionTo(to) {
		return false, nil
	}

	p.Status = to
	p.UpdatedAt = upd.UpdatedAt

	if upd.GatewayPaymentID != "" {
		p.GatewayPaymentID = upd.GatewayPaymentID
	}

	if upd.FailureReason != "" {
		p.FailureReason = upd.FailureReason
	}

	s.payments[id] = p
	s.mutations++

	return true, nil
}

func (s *Store) CaptureIfAbsent(ctx context.Context, orderID, paymentID string, at time.Time) (entity.Payment, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return entity.Payment{}, false, s.failure
	}

	p, ok := s.byOrderID(orderID)
	if !ok || !p.CanCapture(paymentID) {
		return entity.Payment{}, false, nil
	}

	for _, other := range s.payments {
		if other.ID != p.ID && other.GatewayPaymentID == paymentID && isMoney(other) {
			return entity.Payment{}, false, fmt.Errorf("%w: payment %s already captured", entity.ErrInvalidTransition, paymentID)
		}
	}

	p.Status = entity.PaymentCaptured
	p.GatewayPaymentID = paymentID
	p.FailureReason = ""
	p.ConfirmedAt = at
	p.UpdatedAt = at
	s.payments[p.ID] = p
	s.mutations++

	return p, true, nil
}

func (s *Store) ApplyRefundIfAbsent(ctx context.Context, refund entity.Refund) (bool, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return false, s.failure
	}

	if _, ok := s.refunds[refund.GatewayRefundID]; ok {
		return false, nil
	}

	p, ok := s.payments[refund.PaymentID]
	if !ok || !isMoney(p) || p.AmountRefunded+refund.Amount > p.Amount {
		return false, fmt.Errorf("%w: refund %s exceeds captured amount", entity.ErrInvalidAmount, refund.GatewayRefundID)
	}

	p.AmountRefunded += refund.Amount
	p.Status = entity.PaymentRefunded
	p.UpdatedAt = refund.CreatedAt
	s.payments[p.ID] = p
	s.refunds[refund.GatewayRefundID] = refund
	s.mutations++

	return true, nil
}

func (s *Store) RecordWebhookEvent(ctx context.Context, ev entity.WebhookEvent) (bool, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return false, s.failure
	}

	if _, ok := s.events[ev.ID]; ok {
		return false, nil
	}

	s.events[ev.ID] = ev
	s.mutations++

	return true, nil
}

func (s *Store) PendingPayments(ctx context.Context, from, to time.Time) ([]entity.Payment, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return nil, s.failure
	}

	var res []entity.Payment

	for _, p := range s.payments {
		pending := p.Status == entity.PaymentCreated || p.Status == entity.PaymentAuthorized ||
			p.Status == entity.PaymentFailed && p.FailureReason != entity.FailureExpired
		if pending && !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			res = append(res, p)
		}
	}

	slices.SortFunc(res, func(a, b entity.Payment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return res, nil
}

func (s *Store) ExpirePayments(ctx context.Context, createdBefore, at time.Time, reason string) (int64, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return 0, s.failure
	}

	var n int64

	for id, p := range s.payments {
		if p.Status != entity.PaymentCreated || !p.CreatedAt.Before(createdBefore) {
			continue
		}

		p.Status = entity.PaymentFailed
		p.FailureReason = reason
		p.UpdatedAt = at
		s.payments[id] = p
		n++
	}

	s.mutations += int(n)

	return n, nil
}

func (s *Store) InvoicePayments(ctx context.Context, invoiceID uuid.UUID, f entity.PaymentFilter) ([]entity.Payment, int, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if s.failure != nil {
		return nil, 0, s.failure
	}

	var res []entity.Payment

	for _, p := range s.payments {
		if p.InvoiceID != invoiceID || f.Status != nil && p.Status != *f.Status {
			continue
		}

		res = append(res, p)
	}

	slices.SortFunc(res, func(a, b entity.Payment) int {
		var c int

		switch f.SortBy {
		case entity.SortByAmount:
			c = cmp.Compare(a.Amount, b.Amount)
		case entity.SortByStatus:
			c = cmp.Compare(a.Status, b.Status)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if f.OrderBy == entity.DESC {
			return -c
		}

		return c
	})

	total := len(res)

	start := min(int(f.Offset()), total)
	end := min(start+int(f.Limit), total)

	return res[start:end], total, nil
}

func (s *Store) byOrderID(orderID string) (entity.Payment, bool) {
	for _, p := range s.payments {
		if p.GatewayOrderID == orderID {
			return p, true
		}
	}

	return entity.Payment{}, false
}

func isMoney(p entity.Payment) bool {
	return p.Status == entity.PaymentCaptured || p.Status == entity.PaymentRefunded
}

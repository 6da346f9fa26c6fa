package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
)

// memStore backs both the order and payment repositories so settlements can
// touch both the way the database transaction does.
type memStore struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*models.Order
	payments   map[uuid.UUID]*models.Payment
	failNext   error
	refundFail error
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[uuid.UUID]*models.Order{},
		payments: map[uuid.UUID]*models.Payment{},
	}
}

type memOrders struct{ s *memStore }
type memPayments struct{ s *memStore }

func (m memOrders) Create(ctx context.Context, order *models.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.failNext; err != nil {
		m.s.failNext = nil
		return err
	}
	o := *order
	o.CreatedAt = time.Now()
	m.s.orders[o.ID] = &o
	return nil
}

func (m memOrders) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m memOrders) FindByIDAndUserID(ctx context.Context, id uuid.UUID, userID string) (*models.Order, error) {
	o, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (m memOrders) List(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var all []models.Order
	for _, o := range m.s.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		all = append(all, *o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m memOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok || o.Status != from {
		return repository.ErrStaleState
	}
	o.Status = to
	return nil
}

func (m memPayments) Create(ctx context.Context, p *models.Payment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.failNext; err != nil {
		m.s.failNext = nil
		return err
	}
	for _, existing := range m.s.payments {
		if existing.OrderID == p.OrderID && existing.Status != models.PaymentFailed {
			return repository.ErrDuplicate
		}
	}
	cp := *p
	cp.CreatedAt = time.Now()
	m.s.payments[cp.ID] = &cp
	return nil
}

func (m memPayments) find(match func(*models.Payment) bool) (*models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memPayments) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.ID == id })
}

func (m memPayments) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.ProcessorIntentID == intentID })
}

func (m memPayments) FindByIntentIDAndUserID(ctx context.Context, intentID, userID string) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.ProcessorIntentID == intentID && p.UserID == userID })
}

func (m memPayments) FindOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return m.find(func(p *models.Payment) bool { return p.OrderID == orderID && p.Status != models.PaymentFailed })
}

func (m memPayments) CountByOrderID(ctx context.Context, orderID uuid.UUID) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, p := range m.s.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (m memPayments) HasCompletedForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	_, err := m.find(func(p *models.Payment) bool { return p.OrderID == orderID && p.Status == models.PaymentCompleted })
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m memPayments) ListByUserID(ctx context.Context, userID string, page, limit int) ([]models.Payment, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Payment
	for _, p := range m.s.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, int64(len(out)), nil
}

func (m memPayments) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Payment
	for _, p := range m.s.payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memPayments) MarkSucceeded(ctx context.Context, id uuid.UUID) (*repository.Settlement, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o := m.s.orders[p.OrderID]
	s := &repository.Settlement{PrevOrderStatus: o.Status}
	switch p.Status {
	case models.PaymentFailed:
		for _, other := range m.s.payments {
			if other.OrderID == p.OrderID && other.ID != p.ID && other.Status != models.PaymentFailed {
				return nil, repository.ErrDuplicate
			}
		}
		fallthrough
	case models.PaymentPending:
		now := time.Now()
		p.Status = models.PaymentCompleted
		p.CompletedAt = &now
		s.PaymentChanged = true
	case models.PaymentCompleted:
	default:
		return nil, repository.ErrStaleState
	}
	if o.Status == models.OrderPending {
		o.Status = models.OrderConfirmed
		pid := p.ID
		o.PaymentID = &pid
		s.OrderChanged = true
	}
	s.Payment, s.Order = *p, *o
	return s, nil
}

func (m memPayments) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.Status != models.PaymentPending {
		return false, nil
	}
	p.Status = models.PaymentFailed
	p.FailureReason = &reason
	return true, nil
}

func (m memPayments) MarkRefunded(ctx context.Context, id uuid.UUID, refundID, reason string) (*repository.Settlement, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status != models.PaymentCompleted {
		return nil, repository.ErrStaleState
	}
	if err := m.s.refundFail; err != nil {
		m.s.refundFail = nil
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := m.s.orders[p.OrderID]
	s := &repository.Settlement{PrevOrderStatus: o.Status, PaymentChanged: true}
	p.Status = models.PaymentRefunded
	p.RefundID = &refundID
	p.RefundReason = &reason
	if !o.Status.IsTerminal() {
		o.Status = models.OrderCancelled
		s.OrderChanged = true
	}
	s.Payment, s.Order = *p, *o
	return s, nil
}

func (m memPayments) RecordDuplicateRefund(ctx context.Context, id uuid.UUID, refundID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.Status != models.PaymentFailed {
		return repository.ErrStaleState
	}
	reason := "duplicate"
	p.RefundID = &refundID
	p.RefundReason = &reason
	return nil
}

type memMeals map[string]*models.Meal

func (m memMeals) FindByID(ctx context.Context, id string) (*models.Meal, error) {
	meal, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return meal, nil
}

// fakeProcessor is an in-memory card processor. Like Stripe it replays the
// first response for a repeated idempotency key.
type fakeProcessor struct {
	mu        sync.Mutex
	intents   map[string]*Intent
	byKey     map[string]string
	refunds   map[string]*Refund
	refunded  []string
	seq       int
	createErr error
	event     *ProcessorEvent
	verifyErr error
	calls     map[string]int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		intents: map[string]*Intent{},
		byKey:   map[string]string{},
		refunds: map[string]*Refund{},
		calls:   map[string]int{},
	}
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, amountMinor int64, currency, idempotencyKey string, metadata map[string]string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if id, ok := f.byKey[idempotencyKey]; ok && idempotencyKey != "" {
		cp := *f.intents[id]
		return &cp, nil
	}
	f.seq++
	id := fmt.Sprintf("pi_%d", f.seq)
	in := &Intent{ID: id, ClientSecret: id + "_secret", Status: IntentRequiresPaymentMethod, Amount: amountMinor, Currency: currency}
	f.intents[id] = in
	f.byKey[idempotencyKey] = id
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["retrieve"]++
	in, ok := f.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) CancelIntent(ctx context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cancel"]++
	in, ok := f.intents[intentID]
	if !ok {
		return nil
	}
	if in.Status == IntentSucceeded {
		return errors.New("cannot cancel a succeeded payment intent")
	}
	in.Status = IntentCanceled
	return nil
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, intentID, reason, idempotencyKey string) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["refund"]++
	if r, ok := f.refunds[idempotencyKey]; ok && idempotencyKey != "" {
		cp := *r
		return &cp, nil
	}
	for _, done := range f.refunded {
		if done == intentID {
			return nil, errors.New("charge has already been refunded")
		}
	}
	f.refunded = append(f.refunded, intentID)
	r := &Refund{ID: "re_" + intentID, Status: "succeeded"}
	f.refunds[idempotencyKey] = r
	cp := *r
	return &cp, nil
}

func (f *fakeProcessor) VerifyWebhook(payload []byte, signature string) (*ProcessorEvent, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.event, nil
}

func (f *fakeProcessor) setStatus(intentID string, st IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intentID].Status = st
}

func (f *fakeProcessor) succeededIntents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, in := range f.intents {
		if in.Status == IntentSucceeded {
			n++
		}
	}
	return n
}

func (f *fakeProcessor) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

type memEventStore struct {
	mu       sync.Mutex
	seen     map[string]bool
	released int
}

func (s *memEventStore) Reserve(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

func (s *memEventStore) Release(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	s.released++
	return nil
}

type fixture struct {
	store     *memStore
	processor *fakeProcessor
	events    *memEventStore
	orders    *OrderService
	payments  *PaymentService
}

func newFixture() *fixture {
	store := newMemStore()
	proc := newFakeProcessor()
	events := &memEventStore{}
	meals := memMeals{
		"meal-1": {ID: "meal-1", Name: "Salmon Bowl", Price: decimal.RequireFromString("500"), IsAvailable: true},
		"meal-2": {ID: "meal-2", Name: "Steak Plate", Price: decimal.RequireFromString("1000"), IsAvailable: true},
		"meal-x": {ID: "meal-x", Name: "Seasonal Soup", Price: decimal.RequireFromString("8.50"), IsAvailable: false},
	}
	orders := NewOrderService(memOrders{store}, meals, nil)
	orders.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return &fixture{
		store:     store,
		processor: proc,
		events:    events,
		orders:    orders,
		payments:  NewPaymentService(memPayments{store}, memOrders{store}, proc, events, nil, "usd"),
	}
}

func validOrderInput() CreateOrderInput {
	return CreateOrderInput{
		Items: []OrderItemInput{
			{MealID: "meal-1", Quantity: 2},
			{MealID: "meal-2", Quantity: 1, Customizations: []string{"no onions"}},
		},
		DeliveryAddress: models.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701"},
		DeliveryDate:    time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		DeliveryTime:    "12:30",
	}
}

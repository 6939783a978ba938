// Package storetest provides in-memory doubles for the persistence and
// messaging interfaces used across the service.
package storetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/shopspring/decimal"
)

// MemoryStore implements types.SubscriptionStore with the same conditional
// update rules as the Postgres store.
type MemoryStore struct {
	mu            sync.Mutex
	Now           func() time.Time
	payments      map[string]*types.Payment
	users         map[int64]*types.User
	subscriptions []*types.Subscription
	Activity      []Activity
	Calls         map[string]int

	FindErr   error
	CreateErr error
	UserErr   error
	UpdateErr error
	UpsertErr error
	LinkErr   error
	PingErr   error
}

type Activity struct {
	UserID  int64
	Action  string
	Details map[string]any
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		Now:      now,
		payments: map[string]*types.Payment{},
		users:    map[int64]*types.User{},
		Calls:    map[string]int{},
	}
}

func (m *MemoryStore) call(name string) {
	m.Calls[name]++
}

// TotalCalls counts every store operation made so far.
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		n += c
	}
	return n
}

func (m *MemoryStore) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *MemoryStore) AddPayment(p types.Payment) *types.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = int64(len(m.payments) + 1)
	}
	if p.Status == "" {
		p.Status = types.PaymentPending
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	cp := p
	m.payments[p.InvoiceID] = &cp
	return &cp
}

func (m *MemoryStore) AddSubscription(s types.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = int64(len(m.subscriptions) + 1)
	}
	if s.Status == "" {
		s.Status = types.SubscriptionActive
	}
	cp := s
	m.subscriptions = append(m.subscriptions, &cp)
}

func (m *MemoryStore) Payment(invoiceID string) types.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[invoiceID]
}

func (m *MemoryStore) Subscriptions(userID int64) []types.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out
}

func (m *MemoryStore) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Activity))
	for i, a := range m.Activity {
		out[i] = a.Action
	}
	return out
}

func (m *MemoryStore) FindPaymentByInvoiceID(_ context.Context, invoiceID string) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("FindPaymentByInvoiceID")
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	p, ok := m.payments[invoiceID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status types.PaymentStatus, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("UpdatePaymentStatus")
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	for _, p := range m.payments {
		if p.ID != paymentID {
			continue
		}
		if p.Status != types.PaymentPending {
			return types.ErrPaymentNotPending
		}
		p.Status = status
		if paidAt != nil {
			t := *paidAt
			p.PaidAt = &t
		}
		return nil
	}
	return types.ErrPaymentNotPending
}

func (m *MemoryStore) activeLocked(userID int64, now time.Time) *types.Subscription {
	var best *types.Subscription
	for _, s := range m.subscriptions {
		if s.UserID != userID || s.Status != types.SubscriptionActive || s.EndDate.Before(now) {
			continue
		}
		if best == nil || s.EndDate.After(best.EndDate) {
			best = s
		}
	}
	return best
}

func (m *MemoryStore) UpsertSubscriptionOnPayment(_ context.Context, userID int64, amount decimal.Decimal, durationDays int) (*types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("UpsertSubscriptionOnPayment")
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	if durationDays <= 0 {
		return nil, errors.New("invalid duration")
	}
	now := m.Now().UTC()
	if cur := m.activeLocked(userID, now); cur != nil {
		cur.EndDate = types.NextEndDate(cur.EndDate, now, durationDays)
		cur.AmountPaid = cur.AmountPaid.Add(amount)
		cur.UpdatedAt = now
		cp := *cur
		return &cp, nil
	}
	s := &types.Subscription{
		ID:         int64(len(m.subscriptions) + 1),
		UserID:     userID,
		Status:     types.SubscriptionActive,
		PlanType:   types.PlanMonthly,
		AmountPaid: amount,
		StartDate:  now,
		EndDate:    now.AddDate(0, 0, durationDays),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.subscriptions = append(m.subscriptions, s)
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) LinkPaymentToSubscription(_ context.Context, paymentID, subscriptionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("LinkPaymentToSubscription")
	if m.LinkErr != nil {
		return m.LinkErr
	}
	for _, p := range m.payments {
		if p.ID == paymentID {
			id := subscriptionID
			p.SubscriptionID = &id
			return nil
		}
	}
	return types.ErrNotFound
}

func (m *MemoryStore) FindActiveSubscription(_ context.Context, userID int64) (*types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("FindActiveSubscription")
	s := m.activeLocked(userID, m.Now().UTC())
	if s == nil {
		return nil, types.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) AppendActivityLog(_ context.Context, userID int64, action string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("AppendActivityLog")
	m.Activity = append(m.Activity, Activity{UserID: userID, Action: action, Details: details})
}

// CachedActiveSubscription has no cache layer in memory.
func (m *MemoryStore) CachedActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	return m.FindActiveSubscription(ctx, userID)
}

func (m *MemoryStore) CreatePayment(_ context.Context, p types.Payment) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("CreatePayment")
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if _, exists := m.payments[p.InvoiceID]; exists {
		return nil, errors.New("duplicate invoice id")
	}
	p.ID = int64(len(m.payments) + 1)
	p.Status = types.PaymentPending
	p.CreatedAt = m.Now().UTC()
	cp := p
	m.payments[p.InvoiceID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) FindUser(_ context.Context, telegramID int64) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("FindUser")
	u, ok := m.users[telegramID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("CreateUser")
	if m.UserErr != nil {
		return m.UserErr
	}
	if _, ok := m.users[user.TelegramID]; !ok {
		user.CreatedAt = m.Now().UTC()
		m.users[user.TelegramID] = &user
	}
	return nil
}

func (m *MemoryStore) GetOrCreateUser(_ context.Context, user types.User) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call("GetOrCreateUser")
	if m.UserErr != nil {
		return nil, m.UserErr
	}
	if u, ok := m.users[user.TelegramID]; ok {
		u.Username, u.FirstName = user.Username, user.FirstName
		cp := *u
		return &cp, nil
	}
	user.CreatedAt = m.Now().UTC()
	m.users[user.TelegramID] = &user
	cp := user
	return &cp, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return m.PingErr
}

// Notifier records every message instead of sending it.
type Notifier struct {
	mu       sync.Mutex
	Messages []Message
	Fail     bool
}

type Message struct {
	UserID int64
	Text   string
}

func (n *Notifier) Send(_ context.Context, userID int64, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, Message{UserID: userID, Text: text})
	return !n.Fail
}

func (n *Notifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.Messages))
	for i, m := range n.Messages {
		out[i] = m.Text
	}
	return out
}

package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Subscription struct {
	ID         int64              `json:"id"`
	UserID     int64              `json:"user_id"`
	Status     SubscriptionStatus `json:"status"`
	PlanType   string             `json:"plan_type"`
	AmountPaid decimal.Decimal    `json:"amount_paid"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// ActiveAt reports whether the subscription grants access at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionActive && !s.EndDate.Before(t)
}

// DaysLeft rounds down; an expired subscription has zero days left.
func (s *Subscription) DaysLeft(t time.Time) int {
	if !s.ActiveAt(t) {
		return 0
	}
	return int(s.EndDate.Sub(t) / (24 * time.Hour))
}

type Payment struct {
	ID             int64           `json:"id"`
	InvoiceID      string          `json:"btcpay_invoice_id"`
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	InvoiceURL     string          `json:"invoice_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
}

// NextEndDate returns max(current, now) + days. A lapsed subscription restarts
// from now, an active one keeps its remaining time.
func NextEndDate(current, now time.Time, days int) time.Time {
	base := now
	if current.After(now) {
		base = current
	}
	return base.AddDate(0, 0, days)
}

type UserStore interface {
	FindUser(ctx context.Context, telegramID int64) (*User, error)
	CreateUser(ctx context.Context, user User) error
	GetOrCreateUser(ctx context.Context, user User) (*User, error)
}

// SubscriptionStore is the persistence surface the reconciliation engine needs.
type SubscriptionStore interface {
	FindPaymentByInvoiceID(ctx context.Context, invoiceID string) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status PaymentStatus, paidAt *time.Time) error
	UpsertSubscriptionOnPayment(ctx context.Context, userID int64, amount decimal.Decimal, durationDays int) (*Subscription, error)
	LinkPaymentToSubscription(ctx context.Context, paymentID, subscriptionID int64) error
	FindActiveSubscription(ctx context.Context, userID int64) (*Subscription, error)
	AppendActivityLog(ctx context.Context, userID int64, action string, details map[string]any)
}

type Notifier interface {
	Send(ctx context.Context, userID int64, text string) bool
}

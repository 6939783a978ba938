package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	opTimeout = 5 * time.Second
	txTimeout = 10 * time.Second
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type SubscriptionCache interface {
	Get(ctx context.Context, userID int64) (*types.Subscription, error)
	Set(ctx context.Context, userID int64, sub *types.Subscription) error
	Invalidate(ctx context.Context, userID int64) error
}

type PostgresStore struct {
	db    DB
	pool  *pgxpool.Pool
	cache SubscriptionCache
	now   func() time.Time
}

type Option func(*PostgresStore)

func WithSubscriptionCache(c SubscriptionCache) Option {
	return func(s *PostgresStore) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *PostgresStore) { s.now = now }
}

// NewPostgresStore connects and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s := NewPostgresStoreWithDB(pool, opts...)
	s.pool = pool
	return s, nil
}

func NewPostgresStoreWithDB(db DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.db.Ping(ctx)
}

func (s *PostgresStore) clock() time.Time {
	return s.now().UTC()
}

func (s *PostgresStore) FindUser(ctx context.Context, telegramID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Select{
		Table:   TableUsers,
		Columns: userColumns,
		Filters: []Filter{Eq("telegram_id", telegramID)},
	}.Build()
	if err != nil {
		return nil, err
	}
	return scanUser(s.db.QueryRow(ctx, sql, args...))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user types.User) error {
	if !validation.ValidateUserID(user.TelegramID) {
		return fmt.Errorf("invalid telegram id %d", user.TelegramID)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Insert{
		Table:          TableUsers,
		Columns:        []string{"telegram_id", "username", "first_name"},
		Values:         []any{user.TelegramID, validation.SanitizeText(user.Username, validation.MaxUsernameLen), validation.SanitizeText(user.FirstName, validation.MaxFirstNameLen)},
		ConflictTarget: []string{"telegram_id"},
	}.Build()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, sql, args...)
	return err
}

// GetOrCreateUser inserts the user or refreshes the display fields of an
// existing row, returning the stored row.
func (s *PostgresStore) GetOrCreateUser(ctx context.Context, user types.User) (*types.User, error) {
	if !validation.ValidateUserID(user.TelegramID) {
		return nil, fmt.Errorf("invalid telegram id %d", user.TelegramID)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Insert{
		Table:          TableUsers,
		Columns:        []string{"telegram_id", "username", "first_name"},
		Values:         []any{user.TelegramID, validation.SanitizeText(user.Username, validation.MaxUsernameLen), validation.SanitizeText(user.FirstName, validation.MaxFirstNameLen)},
		ConflictTarget: []string{"telegram_id"},
		ConflictUpdate: []string{"username", "first_name"},
		Returning:      userColumns,
	}.Build()
	if err != nil {
		return nil, err
	}
	return scanUser(s.db.QueryRow(ctx, sql, args...))
}

func activeSubscriptionQuery(userID int64, now time.Time, forUpdate bool) Select {
	return Select{
		Table:   TableSubscriptions,
		Columns: subscriptionColumns,
		Filters: []Filter{
			Eq("user_id", userID),
			Eq("status", string(types.SubscriptionActive)),
			Gte("end_date", now),
		},
		OrderBy:   "end_date",
		Desc:      true,
		Limit:     1,
		ForUpdate: forUpdate,
	}
}

// FindActiveSubscription returns types.ErrNotFound when the user has no
// subscription running at the current time.
func (s *PostgresStore) FindActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := activeSubscriptionQuery(userID, s.clock(), false).Build()
	if err != nil {
		return nil, err
	}
	return scanSubscription(s.db.QueryRow(ctx, sql, args...))
}

// CachedActiveSubscription serves status screens from the snapshot cache and
// falls back to Postgres on a miss or cache error.
func (s *PostgresStore) CachedActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	if s.cache != nil {
		if sub, err := s.cache.Get(ctx, userID); err == nil {
			return sub, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Int64("user_id", userID).Msg("subscription cache read failed")
		}
	}
	sub, err := s.FindActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, sub); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("subscription cache write failed")
		}
	}
	return sub, nil
}

// UpsertSubscriptionOnPayment extends the running subscription from
// max(end_date, now) or starts a new one at now. The row is locked for the
// duration of the transaction so concurrent payments serialize.
func (s *PostgresStore) UpsertSubscriptionOnPayment(ctx context.Context, userID int64, amount decimal.Decimal, durationDays int) (*types.Subscription, error) {
	if durationDays <= 0 {
		return nil, fmt.Errorf("invalid duration %d days", durationDays)
	}
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.clock()
	sql, args, err := activeSubscriptionQuery(userID, now, true).Build()
	if err != nil {
		return nil, err
	}
	current, err := scanSubscription(tx.QueryRow(ctx, sql, args...))
	switch {
	case errors.Is(err, types.ErrNotFound):
		sql, args, err = Insert{
			Table:     TableSubscriptions,
			Columns:   []string{"user_id", "status", "plan_type", "amount_paid", "start_date", "end_date"},
			Values:    []any{userID, string(types.SubscriptionActive), types.PlanMonthly, amount, now, now.AddDate(0, 0, durationDays)},
			Returning: subscriptionColumns,
		}.Build()
	case err != nil:
		return nil, err
	default:
		newEnd := types.NextEndDate(current.EndDate, now, durationDays)
		sql, args, err = Update{
			Table: TableSubscriptions,
			Set: []Assignment{
				Set("end_date", newEnd),
				Set("amount_paid", current.AmountPaid.Add(amount)),
				Set("updated_at", now),
			},
			Filters: []Filter{
				Eq("id", current.ID),
				Lte("end_date", newEnd),
			},
			Returning: subscriptionColumns,
		}.Build()
	}
	if err != nil {
		return nil, err
	}
	sub, err := scanSubscription(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrWriteNotConfirmed
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return sub, nil
}

func (s *PostgresStore) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("subscription cache invalidation failed")
	}
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p types.Payment) (*types.Payment, error) {
	invoiceID := validation.SanitizeText(p.InvoiceID, validation.MaxInvoiceIDLen)
	if invoiceID == "" {
		return nil, errors.New("payment without invoice id")
	}
	currency := validation.SanitizeText(p.Currency, validation.MaxCurrencyLen)
	if currency == "" {
		currency = "USD"
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Insert{
		Table:     TablePayments,
		Columns:   []string{"btcpay_invoice_id", "user_id", "amount", "currency", "status", "invoice_url"},
		Values:    []any{invoiceID, p.UserID, p.Amount, currency, string(types.PaymentPending), validation.SanitizeText(p.InvoiceURL, validation.MaxInvoiceURLLen)},
		Returning: paymentColumns,
	}.Build()
	if err != nil {
		return nil, err
	}
	return scanPayment(s.db.QueryRow(ctx, sql, args...))
}

func (s *PostgresStore) FindPaymentByInvoiceID(ctx context.Context, invoiceID string) (*types.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Select{
		Table:   TablePayments,
		Columns: paymentColumns,
		Filters: []Filter{Eq("btcpay_invoice_id", invoiceID)},
		Limit:   1,
	}.Build()
	if err != nil {
		return nil, err
	}
	return scanPayment(s.db.QueryRow(ctx, sql, args...))
}

// UpdatePaymentStatus moves a pending payment to a terminal status. It
// returns types.ErrPaymentNotPending when the row was already resolved.
func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, paymentID int64, status types.PaymentStatus, paidAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	set := []Assignment{Set("status", string(status))}
	if paidAt != nil {
		set = append(set, Set("paid_at", paidAt.UTC()))
	}
	sql, args, err := Update{
		Table: TablePayments,
		Set:   set,
		Filters: []Filter{
			Eq("id", paymentID),
			Eq("status", string(types.PaymentPending)),
		},
	}.Build()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrPaymentNotPending
	}
	return nil
}

func (s *PostgresStore) LinkPaymentToSubscription(ctx context.Context, paymentID, subscriptionID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Update{
		Table:   TablePayments,
		Set:     []Assignment{Set("subscription_id", subscriptionID)},
		Filters: []Filter{Eq("id", paymentID)},
	}.Build()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// AppendActivityLog never fails the caller; errors are logged.
func (s *PostgresStore) AppendActivityLog(ctx context.Context, userID int64, action string, details map[string]any) {
	if err := s.appendActivityLog(ctx, userID, action, details); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("action", action).Msg("activity log write failed")
	}
}

func (s *PostgresStore) appendActivityLog(ctx context.Context, userID int64, action string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sql, args, err := Insert{
		Table:   TableActivityLogs,
		Columns: []string{"user_id", "action", "details"},
		Values:  []any{userID, validation.SanitizeText(action, validation.MaxActionLen), string(raw)},
	}.Build()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, sql, args...)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ErrNotFound
	}
	return err
}

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	if err := row.Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var (
		sub    types.Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.UserID, &status, &sub.PlanType, &sub.AmountPaid,
		&sub.StartDate, &sub.EndDate, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	sub.Status = types.SubscriptionStatus(status)
	return &sub, nil
}

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var (
		p      types.Payment
		status string
	)
	err := row.Scan(&p.ID, &p.InvoiceID, &p.UserID, &p.Amount, &p.Currency, &status,
		&p.InvoiceURL, &p.CreatedAt, &p.PaidAt, &p.SubscriptionID)
	if err != nil {
		return nil, notFound(err)
	}
	p.Status = types.PaymentStatus(status)
	return &p, nil
}

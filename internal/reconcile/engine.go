// Package reconcile turns verified payment notifications into payment and
// subscription state transitions.
//
// A payment leaves the pending state exactly once. Underpayments never touch
// the subscription, every terminal outcome marks the invoice processed as its
// last step, and transient infrastructure failures leave it unmarked so the
// processor's redelivery can retry.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/logging"
	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/BatmanBruc/subpay-bot/internal/pricing"
	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeAlreadyProcessed   Outcome = "already_processed"
	OutcomeInsufficientAmount Outcome = "insufficient_amount"
	OutcomeActivationFailed   Outcome = "subscription_activation_failed"
)

type Ledger interface {
	IsProcessed(ctx context.Context, invoiceID string) bool
	MarkProcessed(ctx context.Context, invoiceID string)
}

type AccessGranter interface {
	Grant(ctx context.Context, userID int64, invoiceID string)
}

type Notification struct {
	EventType string
	InvoiceID string
}

type Result struct {
	Outcome        Outcome
	InvoiceID      string
	UserID         int64
	AmountPaid     decimal.Decimal
	AmountRequired decimal.Decimal
	Shortfall      decimal.Decimal
	Overpayment    decimal.Decimal
	EndDate        *time.Time
	ErrorID        string
}

type Config struct {
	RequiredTotal decimal.Decimal
	DurationDays  int
	AmountLimits  validation.AmountLimits
}

type Engine struct {
	store    types.SubscriptionStore
	ledger   Ledger
	notifier types.Notifier
	access   AccessGranter
	cfg      Config
	now      func() time.Time
	errorID  func() string
}

type Option func(*Engine)

func WithAccessGranter(a AccessGranter) Option {
	return func(e *Engine) { e.access = a }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithErrorIDs(fn func() string) Option {
	return func(e *Engine) { e.errorID = fn }
}

func NewEngine(store types.SubscriptionStore, ledger Ledger, notifier types.Notifier, cfg Config, opts ...Option) *Engine {
	if cfg.AmountLimits.Max.IsZero() {
		cfg.AmountLimits = validation.DefaultAmountLimits()
	}
	e := &Engine{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		errorID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs one notification to a terminal outcome or returns an error
// envelope (see Classify). Once past the idempotency gate the work is
// detached from ctx cancellation so confirmed writes are never abandoned halfway.
func (e *Engine) Process(ctx context.Context, n Notification) (res Result, err error) {
	res = Result{InvoiceID: n.InvoiceID, AmountRequired: e.cfg.RequiredTotal}
	defer func() {
		label := string(res.Outcome)
		if err != nil {
			label = Classify(err).TextCode
		}
		metrics.ReconcileOutcomesTotal.WithLabelValues(label).Inc()
	}()

	if !types.PaymentObserved(n.EventType) {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	invoiceID := validation.SanitizeText(n.InvoiceID, validation.MaxInvoiceIDLen)
	if invoiceID == "" || invoiceID != n.InvoiceID {
		return res, MalformedPayload("invalid invoice id")
	}

	if e.ledger.IsProcessed(ctx, invoiceID) {
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	}
	ctx = context.WithoutCancel(ctx)
	logger := log.With().Str("invoice", logging.InvoicePrefix(invoiceID)).Str("event_type", n.EventType).Logger()

	payment, err := e.store.FindPaymentByInvoiceID(ctx, invoiceID)
	if errors.Is(err, types.ErrNotFound) {
		logger.Warn().Msg("payment not found for notification")
		return res, PaymentNotFound(invoiceID)
	}
	if err != nil {
		return e.transient(res, "find payment", err)
	}
	res.UserID = payment.UserID
	res.AmountPaid = payment.Amount

	if reason := e.invalidReason(payment); reason != "" {
		logger.Error().Str("reason", reason).Int64("payment_id", payment.ID).Msg("invalid payment record")
		if err := e.store.UpdatePaymentStatus(ctx, payment.ID, types.PaymentError, nil); err != nil && !errors.Is(err, types.ErrPaymentNotPending) {
			logger.Warn().Err(err).Msg("could not flag invalid payment record")
		}
		e.ledger.MarkProcessed(ctx, invoiceID)
		return res, InvalidPaymentRecord(invoiceID, reason)
	}

	if payment.Status != types.PaymentPending {
		logger.Info().Str("status", string(payment.Status)).Msg("payment already resolved")
		return e.alreadyProcessed(ctx, res, invoiceID)
	}

	if !pricing.Sufficient(payment.Amount, e.cfg.RequiredTotal) {
		return e.rejectInsufficient(ctx, res, payment, invoiceID)
	}
	return e.activate(ctx, res, payment, invoiceID)
}

func (e *Engine) invalidReason(p *types.Payment) string {
	switch {
	case !validation.ValidateUserID(p.UserID):
		return "user_id"
	case !validation.ValidateAmount(p.Amount, e.cfg.AmountLimits):
		return "amount"
	}
	return ""
}

func (e *Engine) rejectInsufficient(ctx context.Context, res Result, p *types.Payment, invoiceID string) (Result, error) {
	if err := e.store.UpdatePaymentStatus(ctx, p.ID, types.PaymentInsufficientAmount, nil); err != nil {
		if errors.Is(err, types.ErrPaymentNotPending) {
			return e.alreadyProcessed(ctx, res, invoiceID)
		}
		return e.transient(res, "mark insufficient", err)
	}
	res.Outcome = OutcomeInsufficientAmount
	res.Shortfall = pricing.Shortfall(p.Amount, e.cfg.RequiredTotal)

	log.Warn().Str("invoice", logging.InvoicePrefix(invoiceID)).Int64("user_id", p.UserID).
		Str("paid", p.Amount.StringFixed(2)).Str("required", e.cfg.RequiredTotal.StringFixed(2)).
		Msg("insufficient payment")
	e.notifier.Send(ctx, p.UserID, messages.PaymentInsufficient(p.Amount, e.cfg.RequiredTotal, res.Shortfall))
	e.store.AppendActivityLog(ctx, p.UserID, types.ActionPaymentInsufficient, map[string]any{
		"invoice_id": invoiceID,
		"amount":     p.Amount.StringFixed(2),
		"required":   e.cfg.RequiredTotal.StringFixed(2),
		"shortfall":  res.Shortfall.StringFixed(2),
	})
	e.ledger.MarkProcessed(ctx, invoiceID)
	return res, nil
}

func (e *Engine) activate(ctx context.Context, res Result, p *types.Payment, invoiceID string) (Result, error) {
	paidAt := e.now().UTC()
	if err := e.store.UpdatePaymentStatus(ctx, p.ID, types.PaymentPaid, &paidAt); err != nil {
		if errors.Is(err, types.ErrPaymentNotPending) {
			return e.alreadyProcessed(ctx, res, invoiceID)
		}
		return e.transient(res, "mark paid", err)
	}

	sub, err := e.store.UpsertSubscriptionOnPayment(ctx, p.UserID, p.Amount, e.cfg.DurationDays)
	if err != nil {
		res.Outcome = OutcomeActivationFailed
		res.ErrorID = e.errorID()
		log.Error().Err(err).Str("error_id", res.ErrorID).Str("invoice", logging.InvoicePrefix(invoiceID)).
			Int64("user_id", p.UserID).Msg("subscription activation failed, manual fix required")
		e.notifier.Send(ctx, p.UserID, messages.ActivationPending(invoiceID))
		e.store.AppendActivityLog(ctx, p.UserID, types.ActionActivationFailed, map[string]any{
			"invoice_id": invoiceID,
			"amount":     p.Amount.StringFixed(2),
			"error_id":   res.ErrorID,
		})
		e.ledger.MarkProcessed(ctx, invoiceID)
		return res, nil
	}

	if err := e.store.LinkPaymentToSubscription(ctx, p.ID, sub.ID); err != nil {
		log.Warn().Err(err).Str("invoice", logging.InvoicePrefix(invoiceID)).Int64("subscription_id", sub.ID).
			Msg("could not link payment to subscription")
	}

	over, hasOver := pricing.Overpayment(p.Amount, e.cfg.RequiredTotal)
	res.Outcome = OutcomeSuccess
	res.Overpayment = over
	end := sub.EndDate
	res.EndDate = &end

	log.Info().Str("invoice", logging.InvoicePrefix(invoiceID)).Int64("user_id", p.UserID).
		Time("end_date", sub.EndDate).Msg("subscription activated")
	e.notifier.Send(ctx, p.UserID, messages.PaymentConfirmed(sub.EndDate, over, hasOver))
	details := map[string]any{
		"invoice_id":      invoiceID,
		"amount":          p.Amount.StringFixed(2),
		"subscription_id": sub.ID,
		"end_date":        sub.EndDate.Format(time.RFC3339),
	}
	if hasOver {
		details["overpayment"] = over.StringFixed(2)
	}
	e.store.AppendActivityLog(ctx, p.UserID, types.ActionPaymentReceived, details)
	if e.access != nil {
		e.access.Grant(ctx, p.UserID, invoiceID)
	}
	e.ledger.MarkProcessed(ctx, invoiceID)
	return res, nil
}

func (e *Engine) alreadyProcessed(ctx context.Context, res Result, invoiceID string) (Result, error) {
	e.ledger.MarkProcessed(ctx, invoiceID)
	res.Outcome = OutcomeAlreadyProcessed
	return res, nil
}

func (e *Engine) transient(res Result, op string, err error) (Result, error) {
	res.ErrorID = e.errorID()
	log.Error().Err(err).Str("error_id", res.ErrorID).Str("invoice", logging.InvoicePrefix(res.InvoiceID)).
		Str("op", op).Msg("transient failure during reconciliation")
	return res, TransientFailure(res.ErrorID, err)
}

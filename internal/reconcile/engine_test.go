package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/idempotency"
	"github.com/BatmanBruc/subpay-bot/internal/storetest"
	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/BatmanBruc/subpay-bot/types"
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day5  = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	day20 = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
)

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAccess struct{ grants []string }

func (f *fakeAccess) Grant(_ context.Context, _ int64, invoiceID string) {
	f.grants = append(f.grants, invoiceID)
}

type harness struct {
	store    *storetest.MemoryStore
	ledger   *idempotency.Ledger
	notifier *storetest.Notifier
	access   *fakeAccess
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, Config{
		RequiredTotal: usd("10.50"),
		DurationDays:  30,
		AmountLimits:  validation.DefaultAmountLimits(),
	})
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := func() time.Time { return day5 }
	h := &harness{
		store:    storetest.NewMemoryStore(clock),
		ledger:   idempotency.New(nil, idempotency.Config{}),
		notifier: &storetest.Notifier{},
		access:   &fakeAccess{},
	}
	h.engine = NewEngine(h.store, h.ledger, h.notifier, cfg, WithClock(clock), WithAccessGranter(h.access), WithErrorIDs(func() string { return "err-123" }))
	return h
}

func settled(invoiceID string) Notification {
	return Notification{EventType: types.EventInvoiceSettled, InvoiceID: invoiceID}
}

func textCode(t *testing.T, err error) string {
	t.Helper()
	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich), "expected go-errors envelope, got %T", err)
	return rich.TextCode
}

func TestProcess_IgnoresOtherEvents(t *testing.T) {
	h := newHarness(t)
	for _, ev := range []string{types.EventInvoiceExpired, types.EventInvoiceInvalid, "InvoiceCreated", ""} {
		res, err := h.engine.Process(context.Background(), Notification{EventType: ev, InvoiceID: "inv_1"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	}
	assert.Zero(t, h.store.TotalCalls())
	assert.Empty(t, h.notifier.Messages)
}

func TestProcess_AcceptsAllPaymentObservedEvents(t *testing.T) {
	for _, ev := range []string{types.EventInvoiceSettled, types.EventInvoiceProcessing, types.EventInvoiceReceivedPayment} {
		t.Run(ev, func(t *testing.T) {
			h := newHarness(t)
			h.store.AddPayment(types.Payment{InvoiceID: "inv_1", UserID: 42, Amount: usd("10.50")})
			res, err := h.engine.Process(context.Background(), Notification{EventType: ev, InvoiceID: "inv_1"})
			require.NoError(t, err)
			assert.Equal(t, OutcomeSuccess, res.Outcome)
		})
	}
}

func TestProcess_NewSubscription(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_new", UserID: 42, Amount: usd("10.50")})

	res, err := h.engine.Process(context.Background(), settled("inv_new"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.EndDate)
	assert.True(t, res.EndDate.Equal(day5.AddDate(0, 0, 30)))
	assert.True(t, res.Overpayment.IsZero())

	p := h.store.Payment("inv_new")
	assert.Equal(t, types.PaymentPaid, p.Status)
	require.NotNil(t, p.PaidAt)
	assert.True(t, p.PaidAt.Equal(day5))
	require.NotNil(t, p.SubscriptionID)

	subs := h.store.Subscriptions(42)
	require.Len(t, subs, 1)
	assert.Equal(t, *p.SubscriptionID, subs[0].ID)

	texts := h.notifier.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "April 04, 2026")
	assert.NotContains(t, texts[0], "overpaid")

	assert.Equal(t, []string{types.ActionPaymentReceived}, h.store.Actions())
	assert.Equal(t, []string{"inv_new"}, h.access.grants)
	assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_new"))
}

func TestProcess_ExtendsFromCurrentEndDate(t *testing.T) {
	h := newHarness(t)
	h.store.AddSubscription(types.Subscription{UserID: 42, StartDate: day20.AddDate(0, 0, -30), EndDate: day20, AmountPaid: usd("10.50")})
	h.store.AddPayment(types.Payment{InvoiceID: "inv_ext", UserID: 42, Amount: usd("10.50")})

	res, err := h.engine.Process(context.Background(), settled("inv_ext"))
	require.NoError(t, err)

	day50 := day20.AddDate(0, 0, 30)
	require.NotNil(t, res.EndDate)
	assert.True(t, res.EndDate.Equal(day50), "extension starts at the current end date, got %s", res.EndDate)

	subs := h.store.Subscriptions(42)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].StartDate.Equal(day20.AddDate(0, 0, -30)), "start date unchanged")
	assert.Equal(t, "21.00", subs[0].AmountPaid.StringFixed(2))
}

func TestProcess_InsufficientAmount(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_short", UserID: 42, Amount: usd("9.00")})

	res, err := h.engine.Process(context.Background(), settled("inv_short"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInsufficientAmount, res.Outcome)
	assert.Equal(t, "1.50", res.Shortfall.StringFixed(2))
	assert.Equal(t, "9.00", res.AmountPaid.StringFixed(2))
	assert.Equal(t, "10.50", res.AmountRequired.StringFixed(2))

	assert.Equal(t, types.PaymentInsufficientAmount, h.store.Payment("inv_short").Status)
	assert.Zero(t, h.store.CallCount("UpsertSubscriptionOnPayment"), "underpayment never touches the subscription")
	assert.Empty(t, h.store.Subscriptions(42))

	texts := h.notifier.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "$1.50")
	assert.Equal(t, []string{types.ActionPaymentInsufficient}, h.store.Actions())
	assert.Empty(t, h.access.grants)
	assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_short"))

	res, err = h.engine.Process(context.Background(), settled("inv_short"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Len(t, h.notifier.Messages, 1, "shortfall is not re-notified")
}

func TestProcess_Overpayment(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_over", UserID: 42, Amount: usd("12.00")})

	res, err := h.engine.Process(context.Background(), settled("inv_over"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "1.50", res.Overpayment.StringFixed(2))
	assert.True(t, res.EndDate.Equal(day5.AddDate(0, 0, 30)), "overpayment does not change the duration")
	assert.Contains(t, h.notifier.Texts()[0], "overpaid by $1.50")
}

func TestProcess_IdempotentUnderRedelivery(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_dup", UserID: 42, Amount: usd("10.50")})

	for i := 0; i < 5; i++ {
		res, err := h.engine.Process(context.Background(), settled("inv_dup"))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeSuccess, res.Outcome)
		} else {
			assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome, "delivery %d", i+1)
		}
	}
	assert.Equal(t, 1, h.store.CallCount("UpsertSubscriptionOnPayment"))
	assert.Len(t, h.notifier.Messages, 1)
	assert.Len(t, h.access.grants, 1)
}

func TestProcess_ResolvedPaymentWithoutMarker(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_paid", UserID: 42, Amount: usd("10.50"), Status: types.PaymentPaid})

	res, err := h.engine.Process(context.Background(), settled("inv_paid"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Zero(t, h.store.CallCount("UpsertSubscriptionOnPayment"))
	assert.Empty(t, h.notifier.Messages)
	assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_paid"))
}

func TestProcess_PaymentNotFoundStaysRetryable(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Process(context.Background(), settled("inv_missing"))
	require.Error(t, err)
	assert.Equal(t, TextCodePaymentNotFound, textCode(t, err))
	assert.Equal(t, 404, Classify(err).Code)
	assert.False(t, h.ledger.IsProcessed(context.Background(), "inv_missing"))

	h.store.AddPayment(types.Payment{InvoiceID: "inv_missing", UserID: 42, Amount: usd("10.50")})
	res, err := h.engine.Process(context.Background(), settled("inv_missing"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestProcess_InvalidPaymentRecord(t *testing.T) {
	tests := []struct {
		name    string
		payment types.Payment
	}{
		{name: "bad user id", payment: types.Payment{InvoiceID: "inv_bad", UserID: 0, Amount: usd("10.50")}},
		{name: "amount out of bounds", payment: types.Payment{InvoiceID: "inv_bad", UserID: 42, Amount: usd("0.10")}},
		{name: "negative amount", payment: types.Payment{InvoiceID: "inv_bad", UserID: 42, Amount: usd("-10.50")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.AddPayment(tt.payment)

			_, err := h.engine.Process(context.Background(), settled("inv_bad"))
			require.Error(t, err)
			assert.Equal(t, TextCodeInvalidPaymentRecord, textCode(t, err))
			assert.Equal(t, 400, Classify(err).Code)
			assert.Equal(t, types.PaymentError, h.store.Payment("inv_bad").Status)
			assert.Zero(t, h.store.CallCount("UpsertSubscriptionOnPayment"))
			assert.Empty(t, h.notifier.Messages)
			assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_bad"))
		})
	}
}

func TestProcess_ConfiguredAmountLimits(t *testing.T) {
	cfg := Config{
		RequiredTotal: usd("10500.00"),
		DurationDays:  30,
		AmountLimits:  validation.AmountLimits{Min: usd("5.00"), Max: usd("20000.00")},
	}

	t.Run("exact payment above default maximum activates", func(t *testing.T) {
		h := newHarnessWithConfig(t, cfg)
		h.store.AddPayment(types.Payment{InvoiceID: "inv_big", UserID: 42, Amount: usd("10500.00")})

		res, err := h.engine.Process(context.Background(), settled("inv_big"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, types.PaymentPaid, h.store.Payment("inv_big").Status)
		assert.Len(t, h.store.Subscriptions(42), 1)
	})

	t.Run("amount above configured maximum is invalid", func(t *testing.T) {
		h := newHarnessWithConfig(t, cfg)
		h.store.AddPayment(types.Payment{InvoiceID: "inv_huge", UserID: 42, Amount: usd("20000.01")})

		_, err := h.engine.Process(context.Background(), settled("inv_huge"))
		require.Error(t, err)
		assert.Equal(t, TextCodeInvalidPaymentRecord, textCode(t, err))
		assert.Empty(t, h.store.Subscriptions(42))
	})

	t.Run("amount below configured minimum is invalid", func(t *testing.T) {
		h := newHarnessWithConfig(t, cfg)
		h.store.AddPayment(types.Payment{InvoiceID: "inv_small", UserID: 42, Amount: usd("4.99")})

		_, err := h.engine.Process(context.Background(), settled("inv_small"))
		require.Error(t, err)
		assert.Equal(t, TextCodeInvalidPaymentRecord, textCode(t, err))
	})
}

func TestProcess_TransientFailureIsNotMarked(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_tr", UserID: 42, Amount: usd("10.50")})
	h.store.FindErr = errors.New("dial tcp: connection refused")

	res, err := h.engine.Process(context.Background(), settled("inv_tr"))
	require.Error(t, err)
	assert.Equal(t, TextCodeTransientFailure, textCode(t, err))
	assert.Equal(t, 500, Classify(err).Code)
	assert.Equal(t, "err-123", res.ErrorID)
	assert.False(t, h.ledger.IsProcessed(context.Background(), "inv_tr"))

	h.store.FindErr = nil
	res, err = h.engine.Process(context.Background(), settled("inv_tr"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestProcess_TransientFailureOnStatusUpdate(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_tr", UserID: 42, Amount: usd("10.50")})
	h.store.UpdateErr = errors.New("timeout")

	_, err := h.engine.Process(context.Background(), settled("inv_tr"))
	require.Error(t, err)
	assert.Equal(t, TextCodeTransientFailure, textCode(t, err))
	assert.Zero(t, h.store.CallCount("UpsertSubscriptionOnPayment"))
	assert.False(t, h.ledger.IsProcessed(context.Background(), "inv_tr"))
}

func TestProcess_ActivationFailure(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_af", UserID: 42, Amount: usd("10.50")})
	h.store.UpsertErr = types.ErrWriteNotConfirmed

	res, err := h.engine.Process(context.Background(), settled("inv_af"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivationFailed, res.Outcome)
	assert.Equal(t, "err-123", res.ErrorID)

	assert.Equal(t, types.PaymentPaid, h.store.Payment("inv_af").Status)
	texts := h.notifier.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "manually")
	assert.Equal(t, []string{types.ActionActivationFailed}, h.store.Actions())
	assert.Empty(t, h.access.grants)
	assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_af"), "never retried automatically")

	res, err = h.engine.Process(context.Background(), settled("inv_af"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 1, h.store.CallCount("UpsertSubscriptionOnPayment"))
}

func TestProcess_LinkFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.store.AddPayment(types.Payment{InvoiceID: "inv_link", UserID: 42, Amount: usd("10.50")})
	h.store.LinkErr = errors.New("timeout")

	res, err := h.engine.Process(context.Background(), settled("inv_link"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Len(t, h.notifier.Messages, 1)
}

func TestProcess_NotifierFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.notifier.Fail = true
	h.store.AddPayment(types.Payment{InvoiceID: "inv_nf", UserID: 42, Amount: usd("10.50")})

	res, err := h.engine.Process(context.Background(), settled("inv_nf"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, h.ledger.IsProcessed(context.Background(), "inv_nf"))
}

func TestProcess_MalformedInvoiceID(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"", "   ", "inv\x00evil"} {
		_, err := h.engine.Process(context.Background(), settled(id))
		require.Error(t, err)
		assert.Equal(t, TextCodeMalformedPayload, textCode(t, err))
	}
	assert.Zero(t, h.store.TotalCalls())
}

func TestProcess_SuccessivePaymentsAreMonotonic(t *testing.T) {
	h := newHarness(t)
	var last time.Time
	for _, id := range []string{"inv_a", "inv_b", "inv_c"} {
		h.store.AddPayment(types.Payment{InvoiceID: id, UserID: 42, Amount: usd("10.50")})
		res, err := h.engine.Process(context.Background(), settled(id))
		require.NoError(t, err)
		require.NotNil(t, res.EndDate)
		assert.True(t, res.EndDate.After(last))
		last = *res.EndDate
	}
	assert.True(t, last.Equal(day5.AddDate(0, 0, 90)))
}

package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/subpay-bot/internal/logging"
	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/utils"
	"github.com/BatmanBruc/subpay-bot/types"
)

// createInvoice opens a processor invoice for the plan total and records the
// pending payment the webhook will later reconcile against.
func (bh *Handlers) createInvoice(ctx context.Context, m types.Messenger, msg *models.Message, userID int64) {
	if bh.gateway == nil {
		bh.edit(ctx, m, msg, messages.ErrorInvoiceUnavailable(), utils.RetryInvoiceKeyboard())
		return
	}
	bh.edit(ctx, m, msg, messages.InvoiceCreating(), nil)

	inv, err := bh.gateway.CreateInvoice(ctx, userID, bh.quote.Total)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("invoice creation failed")
		bh.activity.AppendActivityLog(ctx, userID, types.ActionInvoiceFailed, nil)
		bh.edit(ctx, m, msg, messages.ErrorInvoiceUnavailable(), utils.RetryInvoiceKeyboard())
		return
	}

	amount := inv.Amount
	if !amount.IsPositive() {
		amount = bh.quote.Total
	}
	if _, err := bh.payments.CreatePayment(ctx, types.Payment{
		InvoiceID:  inv.ID,
		UserID:     userID,
		Amount:     amount,
		Currency:   inv.Currency,
		Status:     types.PaymentPending,
		InvoiceURL: inv.CheckoutLink,
	}); err != nil {
		log.Error().Err(err).Str("invoice", logging.InvoicePrefix(inv.ID)).Int64("user_id", userID).Msg("could not save payment")
		bh.edit(ctx, m, msg, messages.ErrorDefault(), utils.RetryInvoiceKeyboard())
		return
	}

	bh.activity.AppendActivityLog(ctx, userID, types.ActionInvoiceCreated, map[string]any{
		"invoice_id": inv.ID,
		"amount":     amount.StringFixed(2),
	})
	bh.edit(ctx, m, msg, messages.InvoiceCreated(amount, bh.cfg.InvoiceExpiration, inv.ID), utils.CheckoutKeyboard(inv.CheckoutLink))
}

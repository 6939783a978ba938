package handlers

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/subpay-bot/internal/contextkeys"
	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/utils"
	"github.com/BatmanBruc/subpay-bot/types"
)

func (bh *Handlers) HandleMenuClick(ctx context.Context, m types.Messenger, update *models.Update, userID int64) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	data, _ := contextkeys.GetCallbackData(ctx)
	if data == "" {
		data = update.CallbackQuery.Data
	}

	msg := update.CallbackQuery.Message.Message
	if msg == nil {
		bh.answerCallback(ctx, m, update.CallbackQuery.ID, "")
		return
	}
	if data == utils.CallbackCreateInvoice {
		bh.answerCallback(ctx, m, update.CallbackQuery.ID, "")
		bh.createInvoice(ctx, m, msg, userID)
		return
	}

	var (
		text     string
		keyboard = utils.BackToMenuKeyboard()
	)
	switch data {
	case utils.CallbackSubscribe:
		text = messages.Subscribe(bh.quote.Total, bh.cfg.DurationDays)
		keyboard = utils.SubscribeKeyboard()
	case utils.CallbackStatus:
		text = bh.statusText(ctx, userID)
	case utils.CallbackPlans:
		text = messages.Plans(bh.quote.Base, bh.quote.Fee, bh.quote.Total, bh.cfg.DurationDays)
	case utils.CallbackHow:
		text = messages.HowItWorks()
	case utils.CallbackSupport:
		text = messages.Support(bh.cfg.SupportContact)
	default:
		sub := bh.activeSubscription(ctx, userID)
		text = messages.WelcomeBack(bh.quote.Total, bh.cfg.DurationDays, messages.StatusLine(sub != nil))
		keyboard = utils.MainMenuKeyboard()
	}

	bh.answerCallback(ctx, m, update.CallbackQuery.ID, "")
	bh.edit(ctx, m, msg, text, keyboard)
}

func (bh *Handlers) statusText(ctx context.Context, userID int64) string {
	sub := bh.activeSubscription(ctx, userID)
	if sub == nil {
		return messages.StatusInactive(bh.quote.Total, bh.cfg.DurationDays)
	}
	now := bh.now()
	return messages.StatusActive(sub.EndDate, sub.DaysLeft(now), sub.AmountPaid, bh.cfg.DurationDays)
}

package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/utils"
	"github.com/BatmanBruc/subpay-bot/types"
)

func (bh *Handlers) HandleCommand(ctx context.Context, m types.Messenger, update *models.Update, user *types.User, chatID int64) {
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if strings.Contains(cmd, "@") {
		cmd = strings.SplitN(cmd, "@", 2)[0]
	}

	switch cmd {
	case "/start", "/menu":
		sub := bh.activeSubscription(ctx, user.TelegramID)
		bh.activity.AppendActivityLog(ctx, user.TelegramID, types.ActionUserStarted, nil)
		bh.send(ctx, m, chatID,
			messages.StartWelcome(user.FirstName, bh.quote.Total, bh.cfg.DurationDays, messages.StatusLine(sub != nil)),
			utils.MainMenuKeyboard())
	case "/status":
		bh.send(ctx, m, chatID, bh.statusText(ctx, user.TelegramID), utils.BackToMenuKeyboard())
	case "/help":
		bh.send(ctx, m, chatID, messages.HowItWorks(), utils.BackToMenuKeyboard())
	default:
		bh.send(ctx, m, chatID, messages.ErrorUnknownCommand(), nil)
	}
}

package handlers

import (
	"context"

	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/types"
)

// HandleText points free-form messages back at the menu.
func (bh *Handlers) HandleText(ctx context.Context, m types.Messenger, chatID int64) {
	bh.send(ctx, m, chatID, messages.ErrorUnknownCommand(), nil)
}

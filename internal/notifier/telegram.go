package notifier

import (
	"context"

	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/go-telegram/bot"
)

// TelegramSender sends HTML messages through the bot API.
type TelegramSender struct {
	bot *bot.Bot
}

func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{bot: b}
}

func (s *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	return err
}

package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/subpay-bot/internal/contextkeys"
	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/pricing"
	"github.com/BatmanBruc/subpay-bot/types"
)

type SubscriptionReader interface {
	CachedActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error)
}

type ActivityLogger interface {
	AppendActivityLog(ctx context.Context, userID int64, action string, details map[string]any)
}

type Config struct {
	BasePrice         decimal.Decimal
	FeePercent        decimal.Decimal
	DurationDays      int
	InvoiceExpiration time.Duration
	SupportContact    string
}

type Handlers struct {
	subs     SubscriptionReader
	payments types.PaymentWriter
	activity ActivityLogger
	gateway  types.PaymentGateway
	quote    pricing.Quote
	cfg      Config
	now      func() time.Time
}

// NewHandlers builds the chat front end. gateway may be nil, in which case
// invoice creation reports the payment service as unavailable.
func NewHandlers(subs SubscriptionReader, payments types.PaymentWriter, activity ActivityLogger, gateway types.PaymentGateway, cfg Config) *Handlers {
	return &Handlers{
		subs:     subs,
		payments: payments,
		activity: activity,
		gateway:  gateway,
		quote:    pricing.NewQuote(cfg.BasePrice, cfg.FeePercent),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (bh *Handlers) MainHandler(ctx context.Context, m types.Messenger, update *models.Update) {
	user, ok := contextkeys.GetUser(ctx)
	if !ok {
		log.Error().Msg("user not found in context")
		return
	}
	chatID, _ := contextkeys.GetChatID(ctx)
	messageType, _ := contextkeys.GetMessageType(ctx)

	switch messageType {
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, m, update, user, chatID)
	case contextkeys.MessageTypeClickButton:
		bh.HandleMenuClick(ctx, m, update, user.TelegramID)
	case contextkeys.MessageTypeText:
		bh.HandleText(ctx, m, chatID)
	}
}

// activeSubscription hides store errors from the user; a failed lookup is
// shown as "not active" and logged.
func (bh *Handlers) activeSubscription(ctx context.Context, userID int64) *types.Subscription {
	sub, err := bh.subs.CachedActiveSubscription(ctx, userID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			log.Warn().Err(err).Int64("user_id", userID).Msg("subscription lookup failed")
		}
		return nil
	}
	if !sub.ActiveAt(bh.now()) {
		return nil
	}
	return sub
}

func (bh *Handlers) answerCallback(ctx context.Context, m types.Messenger, callbackID, text string) {
	if callbackID == "" {
		return
	}
	_, _ = m.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
}

func (bh *Handlers) send(ctx context.Context, m types.Messenger, chatID int64, text string, markup *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := m.SendMessage(ctx, params); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (bh *Handlers) edit(ctx context.Context, m types.Messenger, msg *models.Message, text string, markup *models.InlineKeyboardMarkup) {
	params := &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := m.EditMessageText(ctx, params); err != nil {
		log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("edit message failed")
	}
}

package middleware

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/subpay-bot/internal/contextkeys"
	"github.com/BatmanBruc/subpay-bot/internal/messages"
	"github.com/BatmanBruc/subpay-bot/internal/utils"
	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/BatmanBruc/subpay-bot/types"
)

// HandlerFunc is a bot handler that talks to Telegram through types.Messenger.
type HandlerFunc func(ctx context.Context, m types.Messenger, update *models.Update)

type RateLimiter interface {
	Allow(ctx context.Context, userID int64, action string) bool
}

type Middlewares struct {
	users   types.UserStore
	limiter RateLimiter
}

func NewMiddlewares(users types.UserStore, limiter RateLimiter) *Middlewares {
	return &Middlewares{
		users:   users,
		limiter: limiter,
	}
}

// Adapt plugs a chain into the bot's update loop.
func Adapt(next HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		next(ctx, b, update)
	}
}

// Chain wires the standard order: classify, identify, rate limit, resolve user.
func (m *Middlewares) Chain(next HandlerFunc) HandlerFunc {
	return m.AnalyzeMessageMiddleware(
		m.CheckUserMiddleware(
			m.RateLimitMiddleware(
				m.ResolveUserMiddleware(next),
			),
		),
	)
}

func (m *Middlewares) AnalyzeMessageMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msgr types.Messenger, update *models.Update) {
		switch {
		case update.CallbackQuery != nil && update.CallbackQuery.Data != "":
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, strings.TrimSpace(update.CallbackQuery.Data))
		case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
		case update.Message != nil && update.Message.Text != "":
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeText)
		default:
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown)
		}
		next(ctx, msgr, update)
	}
}

// CheckUserMiddleware drops updates without a valid sender or chat.
func (m *Middlewares) CheckUserMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msgr types.Messenger, update *models.Update) {
		from, chatID := senderAndChat(update)
		if from == nil || chatID == 0 || !validation.ValidateUserID(from.ID) {
			return
		}
		ctx = contextkeys.WithChatID(ctx, chatID)
		ctx = contextkeys.WithUser(ctx, &types.User{
			TelegramID: from.ID,
			Username:   from.Username,
			FirstName:  from.FirstName,
		})
		next(ctx, msgr, update)
	}
}

// RateLimitMiddleware throttles commands and invoice creation per user.
// Menu navigation is not limited.
func (m *Middlewares) RateLimitMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msgr types.Messenger, update *models.Update) {
		action := rateLimitAction(ctx)
		if action == "" || m.limiter == nil {
			next(ctx, msgr, update)
			return
		}
		user, _ := contextkeys.GetUser(ctx)
		if m.limiter.Allow(ctx, user.TelegramID, action) {
			next(ctx, msgr, update)
			return
		}
		log.Info().Int64("user_id", user.TelegramID).Str("action", action).Msg("rate limited")
		if update.CallbackQuery != nil {
			_, _ = msgr.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
				CallbackQueryID: update.CallbackQuery.ID,
				Text:            "Please slow down. Try again in a minute.",
				ShowAlert:       true,
			})
			return
		}
		chatID, _ := contextkeys.GetChatID(ctx)
		_, _ = msgr.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      messages.ErrorRateLimited(),
			ParseMode: messages.ParseModeHTML,
		})
	}
}

// ResolveUserMiddleware upserts the user on commands so profile changes are
// picked up; other updates keep the identity taken from the update.
func (m *Middlewares) ResolveUserMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msgr types.Messenger, update *models.Update) {
		if !contextkeys.IsCommand(ctx) || m.users == nil {
			next(ctx, msgr, update)
			return
		}
		user, _ := contextkeys.GetUser(ctx)
		stored, err := m.users.GetOrCreateUser(ctx, *user)
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.TelegramID).Msg("could not resolve user")
			chatID, _ := contextkeys.GetChatID(ctx)
			_, _ = msgr.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      messages.ErrorServiceUnavailable(),
				ParseMode: messages.ParseModeHTML,
			})
			return
		}
		next(contextkeys.WithUser(ctx, stored), msgr, update)
	}
}

func rateLimitAction(ctx context.Context) string {
	msgType, _ := contextkeys.GetMessageType(ctx)
	switch msgType {
	case contextkeys.MessageTypeCommand:
		return "command"
	case contextkeys.MessageTypeClickButton:
		if data, _ := contextkeys.GetCallbackData(ctx); data == utils.CallbackCreateInvoice {
			return "invoice"
		}
	}
	return ""
}

func senderAndChat(update *models.Update) (*models.User, int64) {
	switch {
	case update.Message != nil:
		return update.Message.From, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		return &update.CallbackQuery.From, chatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
	}
	return nil, 0
}

func chatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}

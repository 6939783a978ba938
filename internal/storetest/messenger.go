package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Messenger records Telegram calls made by chat handlers.
type Messenger struct {
	mu       sync.Mutex
	Sent     []*bot.SendMessageParams
	Edited   []*bot.EditMessageTextParams
	Answered []*bot.AnswerCallbackQueryParams
	Fail     bool
}

var errMessengerDown = errors.New("telegram unavailable")

func (m *Messenger) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, params)
	if m.Fail {
		return nil, errMessengerDown
	}
	return &models.Message{ID: len(m.Sent), Text: params.Text}, nil
}

func (m *Messenger) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edited = append(m.Edited, params)
	if m.Fail {
		return nil, errMessengerDown
	}
	return &models.Message{ID: params.MessageID, Text: params.Text}, nil
}

func (m *Messenger) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Answered = append(m.Answered, params)
	return !m.Fail, nil
}

// LastText returns the most recent sent or edited text, edits first.
func (m *Messenger) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.Edited); n > 0 {
		return m.Edited[n-1].Text
	}
	if n := len(m.Sent); n > 0 {
		return m.Sent[n-1].Text
	}
	return ""
}

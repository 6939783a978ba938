package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInlineKeyboard_Rows(t *testing.T) {
	kb := BuildInlineKeyboard([]Button{
		{Text: "a", CallbackData: "1"},
		{Text: "b", CallbackData: "2"},
		{Text: "c", CallbackData: "3"},
	}, 2)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Len(t, kb.InlineKeyboard[0], 2)
	assert.Len(t, kb.InlineKeyboard[1], 1)
}

func TestBuildInlineKeyboard_URLButtonsHaveNoCallback(t *testing.T) {
	kb := BuildInlineKeyboard([]Button{{Text: "pay", CallbackData: "x", URL: "https://pay.example.com/i/1"}}, 0)
	btn := kb.InlineKeyboard[0][0]
	assert.Equal(t, "https://pay.example.com/i/1", btn.URL)
	assert.Empty(t, btn.CallbackData)
}

func TestMainMenuKeyboard(t *testing.T) {
	kb := MainMenuKeyboard()
	var data []string
	for _, row := range kb.InlineKeyboard {
		require.Len(t, row, 1)
		data = append(data, row[0].CallbackData)
	}
	assert.Equal(t, []string{CallbackSubscribe, CallbackStatus, CallbackPlans, CallbackHow, CallbackSupport}, data)
}

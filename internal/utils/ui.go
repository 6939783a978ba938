package utils

import (
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/subpay-bot/internal/messages"
)

// Callback data carried by inline buttons.
const (
	CallbackSubscribe     = "menu_subscribe"
	CallbackStatus        = "menu_status"
	CallbackPlans         = "menu_plans"
	CallbackHow           = "menu_how"
	CallbackSupport       = "menu_support"
	CallbackBackToMenu    = "back_to_menu"
	CallbackCreateInvoice = "create_invoice"
)

// Button is either a callback button or, when URL is set, a link button.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

func BuildInlineKeyboard(buttons []Button, perRow int) models.InlineKeyboardMarkup {
	if perRow <= 0 {
		perRow = 1
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons)/perRow+1)
	row := make([]models.InlineKeyboardButton, 0, perRow)
	for i, button := range buttons {
		if i > 0 && i%perRow == 0 {
			rows = append(rows, row)
			row = make([]models.InlineKeyboardButton, 0, perRow)
		}
		btn := models.InlineKeyboardButton{Text: button.Text}
		if button.URL != "" {
			btn.URL = button.URL
		} else {
			btn.CallbackData = button.CallbackData
		}
		row = append(row, btn)
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

func MainMenuKeyboard() *models.InlineKeyboardMarkup {
	kb := BuildInlineKeyboard([]Button{
		{Text: messages.MenuBtnSubscribe(), CallbackData: CallbackSubscribe},
		{Text: messages.MenuBtnStatus(), CallbackData: CallbackStatus},
		{Text: messages.MenuBtnPlans(), CallbackData: CallbackPlans},
		{Text: messages.MenuBtnHow(), CallbackData: CallbackHow},
		{Text: messages.MenuBtnSupport(), CallbackData: CallbackSupport},
	}, 1)
	return &kb
}

func BackToMenuKeyboard() *models.InlineKeyboardMarkup {
	kb := BuildInlineKeyboard([]Button{{Text: messages.MenuBtnBack(), CallbackData: CallbackBackToMenu}}, 1)
	return &kb
}

func SubscribeKeyboard() *models.InlineKeyboardMarkup {
	kb := BuildInlineKeyboard([]Button{
		{Text: messages.BtnPayCrypto(), CallbackData: CallbackCreateInvoice},
		{Text: messages.MenuBtnBack(), CallbackData: CallbackBackToMenu},
	}, 1)
	return &kb
}

func RetryInvoiceKeyboard() *models.InlineKeyboardMarkup {
	kb := BuildInlineKeyboard([]Button{{Text: messages.BtnBack(), CallbackData: CallbackSubscribe}}, 1)
	return &kb
}

func CheckoutKeyboard(checkoutLink string) *models.InlineKeyboardMarkup {
	kb := BuildInlineKeyboard([]Button{
		{Text: messages.BtnPayNow(), URL: checkoutLink},
		{Text: messages.MenuBtnBack(), CallbackData: CallbackBackToMenu},
	}, 1)
	return &kb
}

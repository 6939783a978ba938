package messages

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;Tom &amp; &quot;Jerry&quot;&lt;/b&gt;", Escape(` <b>Tom & "Jerry"</b> `))
}

func TestPaymentConfirmed(t *testing.T) {
	end := time.Date(2026, 4, 19, 10, 0, 0, 0, time.UTC)

	text := PaymentConfirmed(end, decimal.Zero, false)
	assert.Contains(t, text, "April 19, 2026")
	assert.NotContains(t, text, "overpaid")

	text = PaymentConfirmed(end, decimal.RequireFromString("1.5"), true)
	assert.Contains(t, text, "overpaid by $1.50")
}

func TestPaymentInsufficient(t *testing.T) {
	text := PaymentInsufficient(decimal.RequireFromString("9"), decimal.RequireFromString("10.5"), decimal.RequireFromString("1.5"))
	assert.Contains(t, text, "Received: $9.00")
	assert.Contains(t, text, "Required: $10.50")
	assert.Contains(t, text, "<b>$1.50</b>")
}

func TestInvoiceCreated_ShortensID(t *testing.T) {
	text := InvoiceCreated(decimal.RequireFromString("10.5"), 15*time.Minute, "ABCDEFGHIJKLMNOP")
	assert.Contains(t, text, "Invoice ID: ABCDEFGH...")
	assert.Contains(t, text, "15 minutes")
}

func TestStartWelcome_EscapesName(t *testing.T) {
	text := StartWelcome("<script>", decimal.RequireFromString("10.5"), 30, StatusLine(false))
	assert.Contains(t, text, "&lt;script&gt;")
	assert.Contains(t, text, "$10.50 / 30 days")
}

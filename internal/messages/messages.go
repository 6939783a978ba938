package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const ParseModeHTML = "HTML"

const dateLayout = "January 02, 2006"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&#39;",
)

func Escape(s string) string {
	return escaper.Replace(strings.TrimSpace(s))
}

func USD(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func Date(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease try again in a moment."
}

func ErrorRateLimited() string {
	return "⏱ <b>Please slow down</b>\nTry again in a minute."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>\nSend /start to open the menu."
}

func ErrorInvoiceUnavailable() string {
	return "🚫 <b>Could not create an invoice</b>\nThe payment service is unavailable. Please try again later."
}

func ErrorServiceUnavailable() string {
	return "🚫 <b>Service temporarily unavailable</b>\nPlease try again later."
}

func MenuBtnSubscribe() string { return "💎 Subscribe / Renew" }
func MenuBtnStatus() string    { return "📊 My Status" }
func MenuBtnPlans() string     { return "📦 Plans" }
func MenuBtnHow() string       { return "❓ How it works" }
func MenuBtnSupport() string   { return "🆘 Support" }
func MenuBtnBack() string      { return "« Back to Menu" }
func BtnPayCrypto() string     { return "⚡️ Pay with Bitcoin/Lightning" }
func BtnBack() string          { return "« Back" }
func BtnPayNow() string        { return "💳 Pay Now" }

// StartWelcome greets the user; statusLine comes from StatusLine.
func StartWelcome(firstName string, total decimal.Decimal, days int, statusLine string) string {
	name := Escape(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Welcome, %s!\n\n💰 Plan: %s / %d days\n📊 Your status: %s\n\nTap below to manage your subscription 👇",
		name, USD(total), days, statusLine)
}

// WelcomeBack is shown when the user returns to the menu from a sub-screen.
func WelcomeBack(total decimal.Decimal, days int, statusLine string) string {
	return fmt.Sprintf("👋 Welcome back!\n\n💰 Plan: %s / %d days\n📊 Your status: %s\n\nTap below to manage your subscription 👇",
		USD(total), days, statusLine)
}

func StatusLine(active bool) string {
	if active {
		return "✅ Active"
	}
	return "❌ Not active"
}

func Subscribe(total decimal.Decimal, days int) string {
	return "💎 <b>Premium Subscription</b>\n\n" +
		fmt.Sprintf("💰 Price: %s\n⏱ Duration: %d days\n⚡️ Payment: Bitcoin or Lightning Network\n\n", USD(total), days) +
		"✨ <b>What you get:</b>\n• Instant activation\n• Access to all premium content\n• Priority support\n\n" +
		"🔒 <b>Secure payment via BTCPay Server</b>\nNo personal information required."
}

func StatusActive(endDate time.Time, daysLeft int, amountPaid decimal.Decimal, days int) string {
	emoji, footer := "✅", "✨ Enjoying premium access!"
	if daysLeft <= 7 {
		emoji, footer = "⚠️", "⚠️ Renew soon to avoid interruption!"
	}
	return fmt.Sprintf("📊 <b>Subscription Status</b>\n\n%s Status: <b>Active</b>\n📅 Expires: %s\n⏳ Days remaining: <b>%d</b>\n💰 Paid: %s / %dd\n\n%s",
		emoji, Date(endDate), daysLeft, USD(amountPaid), days, footer)
}

func StatusInactive(total decimal.Decimal, days int) string {
	return fmt.Sprintf("📊 <b>Subscription Status</b>\n\n❌ Status: <b>Inactive</b>\n💰 Price: %s / %dd\n\nTap Subscribe to get started!",
		USD(total), days)
}

func Plans(base, fee, total decimal.Decimal, days int) string {
	return "💰 <b>Subscription Plans</b>\n\n<b>Monthly Plan:</b>\n" +
		fmt.Sprintf("💵 %s for %d days\n<i>%s + %s processing fee</i>\n\n", USD(total), days, USD(base), USD(fee)) +
		"✨ <b>What's included:</b>\n• Full access to premium content\n• Priority support\n• Exclusive content\n\n" +
		"Tap Subscribe to get started!"
}

func HowItWorks() string {
	return "❓ <b>How It Works</b>\n\n" +
		"<b>Step 1:</b> Tap 💎 Subscribe\n<b>Step 2:</b> Pay with Bitcoin or Lightning\n<b>Step 3:</b> Get instant access!\n\n" +
		"💳 <b>Payment:</b>\nWe accept Bitcoin and Lightning Network payments via BTCPay Server.\n\n" +
		"⚡ <b>Instant Activation:</b>\nYour subscription activates automatically within seconds of payment.\n\n" +
		"🔁 <b>Renewal:</b>\nPaying again while active adds the days to your current expiry date."
}

func Support(contact string) string {
	return "🆘 <b>Support</b>\n\nNeed help? We're here for you!\n\n" +
		fmt.Sprintf("📧 <b>Contact:</b> %s\n\n", Escape(contact)) +
		"⏰ <b>Response Time:</b>\nWe typically respond within 24 hours.\n\n" +
		"💡 <b>Quick Help:</b>\n• Payment issues: include your invoice ID\n• Subscription status: tap 📊 My Status\n• Technical problems: send /start"
}

func InvoiceCreating() string {
	return "⏳ <b>Creating your payment invoice...</b>\n\nThis usually takes a few seconds."
}

func InvoiceCreated(total decimal.Decimal, validFor time.Duration, invoiceID string) string {
	return fmt.Sprintf("✅ <b>Invoice Created!</b>\n\n💰 Amount: %s\n⏱ Valid for: %d minutes\n⚡️ Payment: BTC or Lightning\n\n"+
		"Click <b>Pay Now</b> to open the payment page.\nYou'll receive confirmation automatically! 🎉\n\n<i>Invoice ID: %s...</i>",
		USD(total), int(validFor.Minutes()), Escape(shortID(invoiceID)))
}

// PaymentConfirmed is sent once a payment activated or extended the subscription.
func PaymentConfirmed(endDate time.Time, overpayment decimal.Decimal, hasOverpayment bool) string {
	text := fmt.Sprintf("✅ <b>Payment Confirmed!</b>\n\nYour subscription is active until:\n📅 %s\n\nWelcome to premium! 🎉", Date(endDate))
	if hasOverpayment {
		text += fmt.Sprintf("\n\n💰 You overpaid by %s. Contact support if you would like it applied or refunded.", USD(overpayment))
	}
	return text
}

func PaymentInsufficient(paid, required, shortfall decimal.Decimal) string {
	return fmt.Sprintf("⚠️ <b>Payment Incomplete</b>\n\nReceived: %s\nRequired: %s\nMissing: <b>%s</b>\n\n"+
		"Your subscription was not activated. Please contact support with your invoice ID.",
		USD(paid), USD(required), USD(shortfall))
}

func ActivationPending(invoiceID string) string {
	return fmt.Sprintf("⚠️ <b>Payment Received</b>\n\nWe received your payment but could not activate your subscription automatically. "+
		"Our team has been alerted and will fix it manually.\n\n<i>Invoice ID: %s...</i>", Escape(shortID(invoiceID)))
}

func AccessGranted(inviteLink string) string {
	return fmt.Sprintf("🔑 <b>Your premium access</b>\n\nJoin the premium channel with this one-time link:\n%s", Escape(inviteLink))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

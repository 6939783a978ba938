package types

import "errors"

type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentPaid               PaymentStatus = "paid"
	PaymentInsufficientAmount PaymentStatus = "insufficient_amount"
	PaymentError              PaymentStatus = "error"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

const PlanMonthly = "monthly"

// BTCPay webhook event types.
const (
	EventInvoiceSettled         = "InvoiceSettled"
	EventInvoiceProcessing      = "InvoiceProcessing"
	EventInvoiceReceivedPayment = "InvoiceReceivedPayment"
	EventInvoiceExpired         = "InvoiceExpired"
	EventInvoiceInvalid         = "InvoiceInvalid"
)

// PaymentObserved reports whether the event means funds were seen for an invoice.
func PaymentObserved(eventType string) bool {
	switch eventType {
	case EventInvoiceSettled, EventInvoiceProcessing, EventInvoiceReceivedPayment:
		return true
	}
	return false
}

// Activity log actions.
const (
	ActionUserStarted         = "user_started"
	ActionInvoiceCreated      = "invoice_created"
	ActionInvoiceFailed       = "invoice_creation_failed"
	ActionPaymentReceived     = "payment_received"
	ActionPaymentInsufficient = "payment_insufficient"
	ActionActivationFailed    = "subscription_activation_failed"
	ActionAccessGranted       = "access_granted"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPaymentNotPending = errors.New("payment is not pending")
	ErrWriteNotConfirmed = errors.New("write not confirmed")
)

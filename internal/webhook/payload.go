package webhook

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BatmanBruc/subpay-bot/types"
)

var validate = validator.New()

// Payload is the subset of a BTCPay Greenfield webhook body the service reads.
type Payload struct {
	DeliveryID string `json:"deliveryId" validate:"max=100"`
	WebhookID  string `json:"webhookId" validate:"max=100"`
	Type       string `json:"type" validate:"required,max=64"`
	InvoiceID  string `json:"invoiceId" validate:"required,max=100"`
	StoreID    string `json:"storeId" validate:"max=100"`
	Timestamp  int64  `json:"timestamp"`
}

func parsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.Type = strings.TrimSpace(p.Type)
	if err := validate.Struct(p); err != nil {
		return nil, err
	}
	return &p, nil
}

// eventLabel bounds the metrics label set to known event names.
func eventLabel(eventType string) string {
	switch eventType {
	case types.EventInvoiceSettled, types.EventInvoiceProcessing, types.EventInvoiceReceivedPayment,
		types.EventInvoiceExpired, types.EventInvoiceInvalid:
		return eventType
	case "":
		return "unknown"
	}
	return "other"
}

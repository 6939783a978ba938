package types

import (
	"context"

	"github.com/shopspring/decimal"
)

// Invoice is the processor-side view of a checkout created for a user.
type Invoice struct {
	ID           string          `json:"id"`
	CheckoutLink string          `json:"checkoutLink"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
}

type PaymentGateway interface {
	CreateInvoice(ctx context.Context, userID int64, amount decimal.Decimal) (*Invoice, error)
	Health(ctx context.Context) error
}

type PaymentWriter interface {
	CreatePayment(ctx context.Context, payment Payment) (*Payment, error)
}

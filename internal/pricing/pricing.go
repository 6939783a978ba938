package pricing

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -2)
)

// Quote is the price shown to the user: base plus processing fee.
type Quote struct {
	Base       decimal.Decimal
	FeePercent decimal.Decimal
	Fee        decimal.Decimal
	Total      decimal.Decimal
}

// NewQuote rounds the fee to cents before adding it, then rounds the total.
func NewQuote(base, feePercent decimal.Decimal) Quote {
	fee := base.Mul(feePercent).Div(hundred).Round(2)
	return Quote{
		Base:       base,
		FeePercent: feePercent,
		Fee:        fee,
		Total:      base.Add(fee).Round(2),
	}
}

func TotalPrice(base, feePercent decimal.Decimal) decimal.Decimal {
	return NewQuote(base, feePercent).Total
}

// Overpayment returns the surplus rounded to cents; ok is false below one cent.
func Overpayment(paid, required decimal.Decimal) (decimal.Decimal, bool) {
	over := paid.Sub(required).Round(2)
	if over.LessThan(cent) {
		return decimal.Zero, false
	}
	return over, true
}

// Shortfall is how much is missing, zero when paid covers required.
func Shortfall(paid, required decimal.Decimal) decimal.Decimal {
	if !paid.LessThan(required) {
		return decimal.Zero
	}
	return required.Sub(paid).Round(2)
}

func Sufficient(paid, required decimal.Decimal) bool {
	return !paid.LessThan(required)
}

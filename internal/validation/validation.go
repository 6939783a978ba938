// Package validation holds the pure input checks applied to everything that
// crosses a trust boundary: webhook payloads, stored payment rows and chat input.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const maxUserID int64 = 1_000_000_000_000_000 // 10^15

// Field length limits of the persisted columns.
const (
	MaxInvoiceIDLen  = 100
	MaxCurrencyLen   = 10
	MaxInvoiceURLLen = 500
	MaxUsernameLen   = 32
	MaxFirstNameLen  = 64
	MaxActionLen     = 50
)

type AmountLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func DefaultAmountLimits() AmountLimits {
	return AmountLimits{
		Min: decimal.NewFromInt(1),
		Max: decimal.NewFromInt(10000),
	}
}

func ValidateUserID(id int64) bool {
	return id > 0 && id < maxUserID
}

func ValidateAmount(amount decimal.Decimal, limits AmountLimits) bool {
	return !amount.LessThan(limits.Min) && !amount.GreaterThan(limits.Max)
}

// ParseAmount accepts a plain decimal string. Exponents, NaN and empty input fail.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// SanitizeText drops invalid UTF-8 and non-printable runes (whitespace is kept),
// truncates to maxLen runes and trims surrounding whitespace.
func SanitizeText(s string, maxLen int) string {
	if maxLen <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(min(len(s), maxLen*utf8.UTFMax))
	n := 0
	for _, r := range s {
		if n == maxLen {
			break
		}
		if r == utf8.RuneError {
			continue
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

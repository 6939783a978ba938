package validation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id   int64
		want bool
	}{
		{0, false},
		{-5, false},
		{1, true},
		{123456789, true},
		{999_999_999_999_999, true},
		{1_000_000_000_000_000, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateUserID(tt.id), "id=%d", tt.id)
	}
}

func TestValidateAmount(t *testing.T) {
	limits := DefaultAmountLimits()
	tests := []struct {
		amount string
		want   bool
	}{
		{"0.99", false},
		{"1.00", true},
		{"10.50", true},
		{"10000", true},
		{"10000.01", false},
		{"-3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateAmount(decimal.RequireFromString(tt.amount), limits), tt.amount)
	}
}

func TestParseAmount(t *testing.T) {
	d, ok := ParseAmount(" 10.50 ")
	assert.True(t, ok)
	assert.Equal(t, "10.5", d.String())

	for _, bad := range []string{"", "abc", "1e3", "NaN", "10,50"} {
		_, ok := ParseAmount(bad)
		assert.False(t, ok, bad)
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "plain", in: "hello", maxLen: 10, want: "hello"},
		{name: "control chars removed", in: "ab\x00c\x1bd", maxLen: 10, want: "abcd"},
		{name: "trimmed", in: "  name \n", maxLen: 10, want: "name"},
		{name: "truncated before trim", in: "abcdef   ", maxLen: 3, want: "abc"},
		{name: "unicode kept", in: "Привет 👋", maxLen: 20, want: "Привет 👋"},
		{name: "invalid utf8 dropped", in: "a\xffb", maxLen: 10, want: "ab"},
		{name: "zero length", in: "abc", maxLen: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.in, tt.maxLen))
		})
	}
}

func TestSanitizeText_LengthBound(t *testing.T) {
	out := SanitizeText(strings.Repeat("x", 1000), MaxInvoiceIDLen)
	assert.Len(t, out, MaxInvoiceIDLen)
}

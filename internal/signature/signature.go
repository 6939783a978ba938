package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderName is the header BTCPay Server signs webhook deliveries with.
const HeaderName = "BTCPay-Sig"

const prefix = "sha256="

// Verify checks an HMAC-SHA256 signature of the exact raw request body.
// It fails closed: no secret or no header means no notification is trusted.
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	if len(sig) >= len(prefix) && strings.EqualFold(sig[:len(prefix)], prefix) {
		sig = sig[len(prefix):]
	}
	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil || len(expected) != sha256.Size {
		return false
	}
	return hmac.Equal(Sum(rawBody, secret), expected)
}

func Sum(rawBody []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return mac.Sum(nil)
}

// Header renders the value a sender would put in HeaderName.
func Header(rawBody []byte, secret string) string {
	return prefix + hex.EncodeToString(Sum(rawBody, secret))
}

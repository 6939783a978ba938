package reconcile

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by the error envelopes returned from Process and the
// webhook handler.
const (
	TextCodeAuthenticationFailure = "AUTHENTICATION_FAILURE"
	TextCodeMalformedPayload      = "MALFORMED_PAYLOAD"
	TextCodePaymentNotFound       = "PAYMENT_NOT_FOUND"
	TextCodeInvalidPaymentRecord  = "INVALID_PAYMENT_RECORD"
	TextCodeTransientFailure      = "TRANSIENT_FAILURE"
)

func reconcileError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func AuthenticationFailure() error {
	return reconcileError("invalid signature", goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeAuthenticationFailure, nil)
}

func MalformedPayload(message string) error {
	return reconcileError(message, goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeMalformedPayload, nil)
}

func PaymentNotFound(invoiceID string) error {
	return reconcileError("payment not found", goerrors.CategoryNotFound, http.StatusNotFound, TextCodePaymentNotFound,
		map[string]any{"invoice_id": invoiceID})
}

func InvalidPaymentRecord(invoiceID, reason string) error {
	return reconcileError("invalid payment record", goerrors.CategoryValidation, http.StatusBadRequest, TextCodeInvalidPaymentRecord,
		map[string]any{"invoice_id": invoiceID, "reason": reason})
}

func TransientFailure(errorID string, source error) error {
	err := goerrors.Wrap(source, goerrors.CategoryInternal, "internal error").
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeTransientFailure)
	err.WithMetadata(map[string]any{"error_id": errorID})
	return err
}

// Classify unwraps the envelope. Errors without one are treated as transient.
func Classify(err error) *goerrors.Error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return goerrors.New("internal error", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeTransientFailure)
}

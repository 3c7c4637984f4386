package payment

import (
	"errors"
	"fmt"
)

// Reasons a payment could not be verified.
const (
	ReasonUnreachable     = "unreachable"
	ReasonNotFound        = "not_found"
	ReasonNotApproved     = "not_approved"
	ReasonMissingMetadata = "missing_metadata"
	ReasonMalformed       = "malformed_response"
)

// ErrInvalidSignature is returned when a webhook signature does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerificationError is returned when the payment provider cannot be reached
// or reports a payment that must not be fulfilled.
type VerificationError struct {
	PaymentID string
	Reason    string
	Status    string
	Err       error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("payment %s verification failed (%s)", e.PaymentID, e.Reason)
	if e.Status != "" {
		msg += fmt.Sprintf(": status %q", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether asking again later could succeed.
func (e *VerificationError) Retryable() bool {
	return e.Reason == ReasonUnreachable
}

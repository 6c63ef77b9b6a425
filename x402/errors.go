package x402

import (
	"errors"
	"fmt"
)

var (
	// ErrPaymentProofMissing is the cause of a challenge: the request carried
	// no usable credentials. It is answered with 402, never as a failure.
	ErrPaymentProofMissing = errors.New("x402: payment proof missing")
	// ErrVerifierUnavailable wraps transient verifier failures (network errors, timeouts).
	// Clients may retry; the payment was not definitively rejected.
	ErrVerifierUnavailable = errors.New("x402: payment verifier unavailable")
	// ErrInvalidRouteConfig is returned by BuildChallenge for unusable route configuration.
	ErrInvalidRouteConfig = errors.New("x402: invalid route config")
)

// Reject reasons produced locally. Facilitator reasons are passed through as-is.
const (
	ReasonInvalidPayment       = "invalid_payment"
	ReasonUnsupportedVersion   = "unsupported_x402_version"
	ReasonRequirementsMismatch = "payment_requirements_mismatch"
	ReasonVerificationFailed   = "payment_verification_failed"
	ReasonSettlementFailed     = "settlement_failed"
)

// RejectedError is a definitive rejection of a payment proof.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "x402: payment rejected: " + e.Reason
}

// Rejected builds a RejectedError; an empty reason becomes ReasonVerificationFailed.
func Rejected(reason string) error {
	if reason == "" {
		reason = ReasonVerificationFailed
	}
	return &RejectedError{Reason: reason}
}

// RejectReason extracts the reason from a RejectedError anywhere in err's chain.
func RejectReason(err error) (string, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrVerifierUnavailable, err)
}

func invalidRoute(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRouteConfig}, args...)...)
}

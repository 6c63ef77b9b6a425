package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/coinbase/x402/go/types"
)

// Verification is an accepted payment.
type Verification struct {
	// Payer is the address the verifier proved the payment came from.
	Payer string
	// Settlement is set when the payment was also settled on-chain.
	Settlement *SettleResponse
}

// Verifier checks a client-supplied payment proof against one requirement.
//
// Implementations return a *Verification on acceptance, an error matching
// *RejectedError for a definitive rejection, or an error wrapping
// ErrVerifierUnavailable for transient failures. Calls for different requests
// must be safe to run in parallel.
type Verifier interface {
	Verify(ctx context.Context, proof string, requirement PaymentRequirement) (*Verification, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, proof string, requirement PaymentRequirement) (*Verification, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, proof string, requirement PaymentRequirement) (*Verification, error) {
	return f(ctx, proof, requirement)
}

// DecodePaymentProof decodes an X-PAYMENT header value. It returns the parsed
// payload and the raw JSON bytes. Malformed input is a RejectedError.
func DecodePaymentProof(proof string) (*PaymentPayload, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(proof))
	if err != nil {
		return nil, nil, Rejected(ReasonInvalidPayment)
	}

	version, err := types.DetectVersion(raw)
	if err != nil {
		return nil, nil, Rejected(ReasonInvalidPayment)
	}
	if version != X402Version {
		return nil, nil, Rejected(ReasonUnsupportedVersion)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, Rejected(ReasonInvalidPayment)
	}
	if payload.Scheme == "" || payload.Network == "" || len(payload.Payload) == 0 || string(payload.Payload) == "null" {
		return nil, nil, Rejected(ReasonInvalidPayment)
	}
	return &payload, raw, nil
}

// matches reports whether the payload targets the requirement's scheme and network.
func (p *PaymentPayload) matches(requirement PaymentRequirement) bool {
	return p.Scheme == requirement.Scheme && p.Network == requirement.Network
}

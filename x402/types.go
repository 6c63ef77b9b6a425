package x402

// x402 v1 wire types for the HTTP paywall.
// Facilitator responses reuse the official github.com/coinbase/x402/go types.

import (
	"encoding/base64"
	"encoding/json"

	x402sdk "github.com/coinbase/x402/go"
)

const (
	X402Version = 1

	// HeaderPayment carries the client's base64-encoded payment payload.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64-encoded settlement result.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	SchemeExact = "exact"

	// ErrorPaymentRequired is the challenge error when no proof was presented.
	ErrorPaymentRequired = "X-PAYMENT header is required"
)

// Re-export official types for convenience
type (
	// VerifyResponse is the official x402 facilitator verify response type
	VerifyResponse = x402sdk.VerifyResponse

	// SettleResponse is the official x402 facilitator settle response type
	SettleResponse = x402sdk.SettleResponse
)

// PaymentRequirement is one accepted way to pay for a resource.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	PayTo             string         `json:"payTo"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentChallenge is the 402 response body. Clients may satisfy any one element of Accepts.
type PaymentChallenge struct {
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
	X402Version int                  `json:"x402Version"`
}

// WithError returns a copy of the challenge carrying a different error string.
func (c *PaymentChallenge) WithError(msg string) *PaymentChallenge {
	accepts := make([]PaymentRequirement, len(c.Accepts))
	copy(accepts, c.Accepts)
	return &PaymentChallenge{
		Error:       msg,
		Accepts:     accepts,
		X402Version: c.X402Version,
	}
}

// PaymentPayload is the decoded X-PAYMENT header (x402 v1).
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// EncodePaymentHeader base64-encodes a JSON value the way x402 headers are carried.
func EncodePaymentHeader(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

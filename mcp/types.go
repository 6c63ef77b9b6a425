package mcp

import (
	"time"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// Meta keys carried on tool calls and results.
const (
	// MetaKeyPayment carries the client's x402 v1 payment payload (decoded JSON object).
	MetaKeyPayment = "x402/payment"
	// MetaKeySession carries a session token in requests and a freshly issued one in results.
	MetaKeySession         = "x402/session"
	MetaKeyPaymentRequired = "x402/payment-required"
	MetaKeyPaymentResponse = "x402/payment-response"
	MetaKeyCallWith        = "x402/call-with"
)

// DiscoveryResource is one gated HTTP route advertised to agents.
type DiscoveryResource struct {
	Resource    string                    `json:"resource"`
	Type        string                    `json:"type"`
	X402Version int                       `json:"x402Version"`
	Accepts     []x402.PaymentRequirement `json:"accepts"`
	LastUpdated time.Time                 `json:"lastUpdated"`
	Input       InputSchema               `json:"input"`
}

// InputSchema describes how to call a discovered HTTP resource.
type InputSchema struct {
	Type        string            `json:"type"`
	Method      string            `json:"method"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
}

// NewDiscoveryResource describes an HTTP route guarded by challenge.
func NewDiscoveryResource(method string, challenge *x402.PaymentChallenge, updated time.Time) DiscoveryResource {
	res := DiscoveryResource{
		Type:        "http",
		X402Version: challenge.X402Version,
		Accepts:     challenge.WithError("").Accepts,
		LastUpdated: updated.UTC(),
		Input:       InputSchema{Type: "http", Method: method},
	}
	if len(res.Accepts) > 0 {
		res.Resource = res.Accepts[0].Resource
	}
	return res
}

func (r DiscoveryResource) description() string {
	for _, accept := range r.Accepts {
		if accept.Description != "" {
			return accept.Description
		}
	}
	return ""
}

func (r DiscoveryResource) method() string {
	if r.Input.Method == "" {
		return "GET"
	}
	return r.Input.Method
}

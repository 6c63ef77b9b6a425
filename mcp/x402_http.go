package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	x402types "github.com/coinbase/x402/go/types"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// encodePaymentProof turns an x402/payment meta object into an X-PAYMENT header value.
// Only x402 v1 payloads are accepted.
func encodePaymentProof(payment any) (string, error) {
	if _, ok := payment.(map[string]any); !ok {
		return "", fmt.Errorf("%s metadata must be an object", MetaKeyPayment)
	}
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", err
	}
	version, err := x402types.DetectVersion(raw)
	if err != nil {
		return "", fmt.Errorf("%s metadata: %w", MetaKeyPayment, err)
	}
	if version != x402.X402Version {
		return "", fmt.Errorf("%s metadata: unsupported x402Version %d", MetaKeyPayment, version)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodePaymentRequired extracts a v1 challenge from a 402 response body.
func decodePaymentRequired(resp *http.Response, body []byte) *x402.PaymentChallenge {
	if resp == nil || resp.StatusCode != http.StatusPaymentRequired || len(body) == 0 {
		return nil
	}
	version, err := x402types.DetectVersion(body)
	if err != nil || version != x402.X402Version {
		return nil
	}
	var challenge x402.PaymentChallenge
	if err := json.Unmarshal(body, &challenge); err != nil || len(challenge.Accepts) == 0 {
		return nil
	}
	return &challenge
}

func decodePaymentResponse(resp *http.Response) map[string]any {
	if resp == nil {
		return nil
	}
	return decodePaymentHeader(resp.Header.Get(x402.HeaderPaymentResponse))
}

func decodePaymentHeader(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}
	return decoded
}

// sessionFromResponse returns the session cookie value set by a proxied route.
func sessionFromResponse(resp *http.Response, cookieName string) string {
	for _, c := range resp.Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

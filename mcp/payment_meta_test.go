package mcp

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

func v1Payment() map[string]any {
	return map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "base-sepolia",
		"payload": map[string]any{
			"signature": "0xdeadbeef",
		},
	}
}

func TestEncodePaymentProofV1(t *testing.T) {
	t.Parallel()

	proof, err := encodePaymentProof(v1Payment())
	if err != nil {
		t.Fatalf("encodePaymentProof error: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		t.Fatalf("decode X-PAYMENT header: %v", err)
	}
	var headerPayload map[string]any
	if err := json.Unmarshal(decoded, &headerPayload); err != nil {
		t.Fatalf("unmarshal X-PAYMENT payload: %v", err)
	}
	if headerPayload["x402Version"] != float64(1) {
		t.Fatalf("expected x402Version to be 1, got %v", headerPayload["x402Version"])
	}
	if headerPayload["scheme"] != "exact" || headerPayload["network"] != "base-sepolia" {
		t.Fatalf("expected scheme/network to be set")
	}
	payload, ok := headerPayload["payload"].(map[string]any)
	if !ok || payload["signature"] != "0xdeadbeef" {
		t.Fatalf("expected payload signature to be set")
	}
}

func TestEncodePaymentProofRejectsUnsupported(t *testing.T) {
	t.Parallel()

	v2 := v1Payment()
	v2["x402Version"] = 2
	for name, payment := range map[string]any{
		"v2 payload": v2,
		"string":     "eyJ4NDAyVmVyc2lvbiI6MX0=",
		"no version": map[string]any{"scheme": "exact"},
	} {
		if _, err := encodePaymentProof(payment); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestHTTPResponseToMCPResultPaymentRequiredV1Body(t *testing.T) {
	t.Parallel()

	challenge := x402.PaymentChallenge{
		Error:       x402.ErrorPaymentRequired,
		X402Version: 1,
		Accepts: []x402.PaymentRequirement{{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			Resource:          "https://api.example.com/premium",
			Description:       "Access to premium content for 1 hour",
			MimeType:          "application/json",
			MaxTimeoutSeconds: 60,
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		}},
	}
	payload, err := json.Marshal(challenge)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp := &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(payload))),
	}

	result, err := httpResponseToMCPResult(resp, "auth_token")
	if err != nil {
		t.Fatalf("httpResponseToMCPResult error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected payment required to return IsError=true")
	}
	structured, ok := result.StructuredContent.(*x402.PaymentChallenge)
	if !ok {
		t.Fatalf("expected structuredContent to be a challenge, got %T", result.StructuredContent)
	}
	if structured.Accepts[0].MaxAmountRequired != "10000" {
		t.Fatalf("unexpected challenge %+v", structured)
	}
	if _, ok := result.Meta[MetaKeyPaymentRequired]; !ok {
		t.Fatalf("expected %s in meta", MetaKeyPaymentRequired)
	}
	textContent, ok := result.Content[0].(*sdkmcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	var textPayload map[string]any
	if err := json.Unmarshal([]byte(textContent.Text), &textPayload); err != nil {
		t.Fatalf("expected content text to be JSON: %v", err)
	}
	if textPayload["x402Version"] != float64(1) {
		t.Fatalf("expected content x402Version to be 1, got %v", textPayload["x402Version"])
	}
}

func TestHTTPResponseToMCPResultIgnoresForeign402(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"error":"pay up"}`)),
	}
	result, err := httpResponseToMCPResult(resp, "auth_token")
	if err != nil {
		t.Fatalf("httpResponseToMCPResult error: %v", err)
	}
	if !result.IsError || result.StructuredContent != nil {
		t.Fatalf("expected a plain error result, got %+v", result)
	}
}

func TestHTTPResponseToMCPResultAddsPaymentMetaAndSession(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]any{
		"success": true,
		"network": "base-sepolia",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"X-Payment-Response": []string{base64.StdEncoding.EncodeToString(payload)},
			"Set-Cookie":         []string{"auth_token=abc.def.ghi; Path=/; Max-Age=3600; HttpOnly; Secure; SameSite=Strict"},
		},
		Body: io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}

	result, err := httpResponseToMCPResult(resp, "auth_token")
	if err != nil {
		t.Fatalf("httpResponseToMCPResult error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success result")
	}
	paymentResponse, ok := result.Meta[MetaKeyPaymentResponse].(map[string]any)
	if !ok || paymentResponse["success"] != true {
		t.Fatalf("expected %s in meta, got %v", MetaKeyPaymentResponse, result.Meta)
	}
	if result.Meta[MetaKeySession] != "abc.def.ghi" {
		t.Fatalf("expected session token in meta, got %v", result.Meta[MetaKeySession])
	}
}

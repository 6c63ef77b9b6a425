package mcp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

const maxProxyResponseBytes = 1 << 20 // 1MB

func resourceToTool(resource DiscoveryResource) *mcp.Tool {
	if !strings.EqualFold(resource.Type, "http") {
		return nil
	}
	description := resource.description()
	if description == "" {
		description = "Proxy call to " + resource.Resource
	}
	name := toolNameFromResource(resource.Resource, resource.method())

	return &mcp.Tool{
		Name:        name,
		Description: strings.TrimSpace(description) + " Use proxy_tool_call with payment to execute.",
		InputSchema: proxyToolSchema(resource),
		Meta: map[string]any{
			MetaKeyPaymentRequired: x402.PaymentChallenge{
				Error:       x402.ErrorPaymentRequired,
				Accepts:     resource.Accepts,
				X402Version: resource.X402Version,
			},
			MetaKeyCallWith: map[string]any{"tool": "proxy_tool_call"},
		},
	}
}

// toolNameFromResource derives a stable tool name; the hash keeps names unique
// across resources that sanitize to the same text.
func toolNameFromResource(resource, method string) string {
	hash := sha1.Sum([]byte(method + ":" + resource))
	return fmt.Sprintf("x402_%s_%s_%s", sanitizeToolName(strings.ToLower(method)), sanitizeToolName(resource), hex.EncodeToString(hash[:4]))
}

func sanitizeToolName(value string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, value)
	if s := strings.Trim(mapped, "_"); s != "" {
		return s
	}
	return "resource"
}

func proxyToolSchema(resource DiscoveryResource) map[string]any {
	parameters := map[string]any{}
	if len(resource.Input.QueryParams) > 0 {
		query := make(map[string]any, len(resource.Input.QueryParams))
		for key, typ := range resource.Input.QueryParams {
			query[key] = map[string]any{"type": "string", "description": typ}
		}
		parameters["query"] = map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"description":          "Query parameters to include on the request.",
			"properties":           query,
		}
	}
	return map[string]any{
		"type":        "object",
		"description": fmt.Sprintf("HTTP %s to %s", resource.method(), resource.Resource),
		"properties": map[string]any{
			"parameters": map[string]any{
				"type":       "object",
				"properties": parameters,
			},
		},
	}
}

func findResourceForToolName(items []DiscoveryResource, toolName string) (*DiscoveryResource, error) {
	for i := range items {
		if !strings.EqualFold(items[i].Type, "http") {
			continue
		}
		if toolNameFromResource(items[i].Resource, items[i].method()) == toolName {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("tool %q not found", toolName)
}

// proxyRequest is the outgoing HTTP call for one proxy_tool_call.
type proxyRequest struct {
	Query        map[string]any
	PaymentProof string
	SessionToken string
}

func buildProxyHTTPRequest(ctx context.Context, resource DiscoveryResource, cookieName string, p proxyRequest) (*http.Request, error) {
	endpoint, err := url.Parse(resource.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource url: %w", err)
	}
	if len(p.Query) > 0 {
		query := endpoint.Query()
		for key, value := range p.Query {
			query.Set(key, fmt.Sprint(value))
		}
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, resource.method(), endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.PaymentProof != "" {
		req.Header.Set(x402.HeaderPayment, p.PaymentProof)
	}
	if p.SessionToken != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: p.SessionToken})
	}
	return req, nil
}

func httpResponseToMCPResult(resp *http.Response, cookieName string) (*mcp.CallToolResult, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy response: %w", err)
	}

	if challenge := decodePaymentRequired(resp, body); challenge != nil {
		return paymentRequiredResult(challenge), nil
	}

	content, err := json.MarshalIndent(map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proxy response: %w", err)
	}
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(content)}},
		IsError: resp.StatusCode >= http.StatusBadRequest,
		Meta:    map[string]any{},
	}
	if paymentResponse := decodePaymentResponse(resp); paymentResponse != nil {
		result.Meta[MetaKeyPaymentResponse] = paymentResponse
	}
	if token := sessionFromResponse(resp, cookieName); token != "" {
		result.Meta[MetaKeySession] = token
	}
	return result, nil
}

// paymentRequiredResult is the MCP rendering of an HTTP 402.
func paymentRequiredResult(challenge *x402.PaymentChallenge) *mcp.CallToolResult {
	content, _ := json.Marshal(challenge)
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(content)}},
		StructuredContent: challenge,
		IsError:           true,
		Meta:              map[string]any{MetaKeyPaymentRequired: challenge},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-paywall/go-api/paywall"
	"github.com/andrewreder/x402-paywall/go-api/session"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

const testPayTo = "0x8D170Db9aB247E7013d024566093E13dc7b0f181"

func testChallenge(t *testing.T, resource string) *x402.PaymentChallenge {
	t.Helper()
	challenge, err := x402.BuildChallenge(x402.RouteConfig{
		Price:       "$0.01",
		Network:     "base-sepolia",
		Description: "Access to premium content for 1 hour",
		Resource:    resource,
		PayTo:       testPayTo,
	})
	if err != nil {
		t.Fatalf("BuildChallenge error: %v", err)
	}
	return challenge
}

func connect(t *testing.T, server *sdkmcp.Server) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestSearchResourcesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	now := time.Now()
	premium := NewDiscoveryResource(http.MethodGet, testChallenge(t, "http://localhost:8080/premium"), now)
	reports := NewDiscoveryResource(http.MethodGet, testChallenge(t, "http://localhost:8080/reports"), now)
	s := NewServer(Options{Resources: []DiscoveryResource{premium, reports}})

	_, out, err := s.SearchResources(context.Background(), nil, &SearchResourcesParams{SearchQuery: "PREMIUM"})
	if err != nil {
		t.Fatalf("SearchResources error: %v", err)
	}
	// Both resources share the premium description.
	if len(out.Tools) != 2 {
		t.Fatalf("expected description match on both resources, got %d", len(out.Tools))
	}

	_, out, err = s.SearchResources(context.Background(), nil, &SearchResourcesParams{SearchQuery: "/reports"})
	if err != nil {
		t.Fatalf("SearchResources error: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != toolNameFromResource(reports.Resource, "GET") {
		t.Fatalf("expected only the reports tool, got %+v", out.Tools)
	}
	if out.X402Version != 1 {
		t.Fatalf("expected x402Version 1, got %d", out.X402Version)
	}

	limit, offset := 1, 1
	_, out, err = s.SearchResources(context.Background(), nil, &SearchResourcesParams{Limit: &limit, Offset: &offset})
	if err != nil {
		t.Fatalf("SearchResources error: %v", err)
	}
	if len(out.Tools) != 1 || *out.Pagination.Total != 2 || *out.Pagination.Offset != 1 {
		t.Fatalf("unexpected pagination %+v with %d tools", out.Pagination, len(out.Tools))
	}
	tool := out.Tools[0]
	if _, ok := tool.Meta[MetaKeyPaymentRequired]; !ok {
		t.Fatalf("expected pricing meta on tool %s", tool.Name)
	}
}

func TestProxyToolCallForwardsPaymentAndSession(t *testing.T) {
	t.Parallel()

	const issued = "issued.session.token"
	var challenge *x402.PaymentChallenge
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("auth_token"); err == nil && c.Value == issued {
			_ = json.NewEncoder(w).Encode(map[string]string{"authenticated": "via cookie"})
			return
		}
		if proof := r.Header.Get(x402.HeaderPayment); proof != "" {
			if _, _, err := x402.DecodePaymentProof(proof); err != nil {
				t.Errorf("proxied proof does not decode: %v", err)
			}
			settlement, _ := x402.EncodePaymentHeader(map[string]any{"success": true, "transaction": "0xabc"})
			w.Header().Set(x402.HeaderPaymentResponse, settlement)
			http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: issued, Path: "/", MaxAge: 3600, HttpOnly: true})
			_ = json.NewEncoder(w).Encode(map[string]string{"authenticated": "via payment"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(challenge)
	}))
	t.Cleanup(upstream.Close)

	challenge = testChallenge(t, upstream.URL+"/premium")
	resource := NewDiscoveryResource(http.MethodGet, challenge, time.Now())
	s := NewServer(Options{Resources: []DiscoveryResource{resource}, Client: upstream.Client()})
	cs := connect(t, s.MCPServer())
	toolName := toolNameFromResource(resource.Resource, "GET")
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "proxy_tool_call",
		Arguments: map[string]any{"toolName": toolName},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !res.IsError || res.Meta[MetaKeyPaymentRequired] == nil {
		t.Fatalf("expected payment required result, got %+v", res)
	}

	res, err = cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "proxy_tool_call",
		Arguments: map[string]any{"toolName": toolName},
		Meta:      sdkmcp.Meta{MetaKeyPayment: v1Payment()},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected paid call to succeed, got %+v", res)
	}
	token, _ := res.Meta[MetaKeySession].(string)
	if token != issued {
		t.Fatalf("expected issued session token in meta, got %v", res.Meta)
	}
	if res.Meta[MetaKeyPaymentResponse] == nil {
		t.Fatalf("expected payment response in meta")
	}

	res, err = cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "proxy_tool_call",
		Arguments: map[string]any{"toolName": toolName},
		Meta:      sdkmcp.Meta{MetaKeySession: token},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected session call to succeed, got %+v", res)
	}
}

func TestProxyToolCallUnknownTool(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	res, _, err := s.ProxyToolCall(context.Background(), nil, &ProxyToolCallParams{ToolName: "x402_get_nothing_00000000"})
	if err != nil {
		t.Fatalf("ProxyToolCall error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for unknown tool")
	}
}

type premiumInput struct{}

func TestPaidToolHandler(t *testing.T) {
	t.Parallel()

	codec, err := session.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	verifierCalls := 0
	verifier := x402.VerifierFunc(func(ctx context.Context, proof string, requirement x402.PaymentRequirement) (*x402.Verification, error) {
		verifierCalls++
		return &x402.Verification{Payer: "0x857b06519E91e3A54538791bDbb0E22373e36b66"}, nil
	})
	gate, err := paywall.NewGate(codec, verifier, testChallenge(t, "mcp://tool/get_premium_content"))
	if err != nil {
		t.Fatalf("NewGate error: %v", err)
	}

	s := NewServer(Options{})
	sdkmcp.AddTool(s.MCPServer(), &sdkmcp.Tool{Name: "get_premium_content", Description: "premium"},
		PaidToolHandler(gate, func(ctx context.Context, req *sdkmcp.CallToolRequest, _ premiumInput) (*sdkmcp.CallToolResult, any, error) {
			auth, ok := paywall.AuthFromContext(ctx)
			via := paywall.ViaPayment
			if ok && auth.HasSession() {
				via = paywall.ViaToken
			}
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: via.String()}},
			}, nil, nil
		}))
	cs := connect(t, s.MCPServer())
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdkmcp.CallToolParams{Name: "get_premium_content", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !res.IsError || res.Meta[MetaKeyPaymentRequired] == nil {
		t.Fatalf("expected challenge without credentials, got %+v", res)
	}

	res, err = cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "get_premium_content",
		Arguments: map[string]any{},
		Meta:      sdkmcp.Meta{MetaKeyPayment: v1Payment()},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if res.IsError || textOf(t, res) != "via payment" {
		t.Fatalf("expected admission via payment, got %+v", res)
	}
	token, _ := res.Meta[MetaKeySession].(string)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("expected a valid session token in meta: %v", err)
	}

	res, err = cs.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "get_premium_content",
		Arguments: map[string]any{},
		Meta:      sdkmcp.Meta{MetaKeySession: token},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if res.IsError || textOf(t, res) != "via cookie" {
		t.Fatalf("expected admission via session, got %+v", res)
	}
	if _, ok := res.Meta[MetaKeySession]; ok {
		t.Fatalf("no token must be issued for a session admission")
	}
	if verifierCalls != 1 {
		t.Fatalf("expected exactly one verifier call, got %d", verifierCalls)
	}
}

func TestPaidToolHandlerFailureKeepsIssuedSession(t *testing.T) {
	t.Parallel()

	codec, err := session.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("NewCodec error: %v", err)
	}
	verifier := x402.VerifierFunc(func(ctx context.Context, proof string, requirement x402.PaymentRequirement) (*x402.Verification, error) {
		return &x402.Verification{
			Payer:      "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			Settlement: &x402.SettleResponse{Success: true, Transaction: "0xabc", Network: "base-sepolia"},
		}, nil
	})
	gate, err := paywall.NewGate(codec, verifier, testChallenge(t, "mcp://tool/get_premium_content"))
	if err != nil {
		t.Fatalf("NewGate error: %v", err)
	}

	s := NewServer(Options{})
	sdkmcp.AddTool(s.MCPServer(), &sdkmcp.Tool{Name: "get_premium_content", Description: "premium"},
		PaidToolHandler(gate, func(ctx context.Context, req *sdkmcp.CallToolRequest, _ premiumInput) (*sdkmcp.CallToolResult, any, error) {
			return nil, nil, errors.New("downstream failed")
		}))
	cs := connect(t, s.MCPServer())

	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{
		Name:      "get_premium_content",
		Arguments: map[string]any{},
		Meta:      sdkmcp.Meta{MetaKeyPayment: v1Payment()},
	})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !res.IsError || !strings.Contains(textOf(t, res), "downstream failed") {
		t.Fatalf("expected the handler failure as an error result, got %+v", res)
	}
	token, _ := res.Meta[MetaKeySession].(string)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("expected the paid session token in meta: %v", err)
	}
	settlement, _ := res.Meta[MetaKeyPaymentResponse].(map[string]any)
	if settlement["transaction"] != "0xabc" {
		t.Fatalf("expected the settlement in meta, got %v", res.Meta[MetaKeyPaymentResponse])
	}
}

func textOf(t *testing.T, res *sdkmcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		return ""
	}
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Content[0])
	}
	return text.Text
}

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_resources",
		Title:       "Search x402 Tools",
		Description: "Discover paid x402 resources. Use searchQuery to filter by text. Execute a returned tool via proxy_tool_call with a payment attached in meta x402/payment.",
		Meta: map[string]any{
			"x402/usage": map[string]any{"step": "discover", "next": "proxy_tool_call"},
		},
		OutputSchema: searchResourcesOutputSchema(),
	}, s.SearchResources)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "proxy_tool_call",
		Title:       "Execute x402 Tool",
		Description: "Executes a discovered x402 tool. Attach an x402 v1 payment in meta x402/payment, or a session token from a previous result in meta x402/session.",
		Meta: map[string]any{
			"x402/usage": map[string]any{"step": "execute", "via": "proxy_tool_call"},
		},
	}, s.ProxyToolCall)
}

// SearchResourcesParams defines parameters for the search_resources tool.
type SearchResourcesParams struct {
	SearchQuery string `json:"searchQuery,omitempty" jsonschema:"Search string for filtering resources"`
	Limit       *int   `json:"limit,omitempty"       jsonschema:"Optional pagination limit"`
	Offset      *int   `json:"offset,omitempty"      jsonschema:"Optional pagination offset"`
}

// SearchResourcesPagination defines pagination for the search_resources tool output.
type SearchResourcesPagination struct {
	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
	Total  *int `json:"total,omitempty"`
}

// SearchResourcesOutput defines the structured output for the search_resources tool.
type SearchResourcesOutput struct {
	Pagination  SearchResourcesPagination `json:"pagination"`
	X402Version int                       `json:"x402Version"`
	Tools       []*mcp.Tool               `json:"tools,omitempty"`
}

// ProxyToolCallParams defines parameters for the proxy_tool_call tool.
type ProxyToolCallParams struct {
	ToolName   string         `json:"toolName"             jsonschema:"Tool name to proxy,required"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"Tool parameters; query holds query string values"`
}

// SearchResources lists the gated resources matching the query as proxyable tools.
func (s *Server) SearchResources(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params *SearchResourcesParams,
) (*mcp.CallToolResult, SearchResourcesOutput, error) {
	filtered := filterDiscoveryResources(s.resources, params.SearchQuery)
	paged, pagination := paginateResources(filtered, params.Limit, params.Offset)

	tools := make([]*mcp.Tool, 0, len(paged))
	for _, resource := range paged {
		if tool := resourceToTool(resource); tool != nil {
			tools = append(tools, tool)
		}
	}
	return nil, SearchResourcesOutput{
		Pagination:  pagination,
		X402Version: x402.X402Version,
		Tools:       tools,
	}, nil
}

// ProxyToolCall calls a discovered HTTP resource and maps the response onto an MCP result.
// A 402 comes back as an error result carrying the challenge; a session token
// issued by the route is returned in meta x402/session.
func (s *Server) ProxyToolCall(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params *ProxyToolCallParams,
) (*mcp.CallToolResult, any, error) {
	if params.ToolName == "" {
		return errorResult("Error: 'toolName' parameter is required."), nil, nil
	}
	resource, err := findResourceForToolName(s.resources, params.ToolName)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	call := proxyRequest{}
	if query, ok := params.Parameters["query"].(map[string]any); ok {
		call.Query = query
	}
	meta := requestMeta(req)
	if token, ok := meta[MetaKeySession].(string); ok {
		call.SessionToken = token
	}
	if payment, ok := meta[MetaKeyPayment]; ok && payment != nil {
		proof, err := encodePaymentProof(payment)
		if err != nil {
			return errorResult(fmt.Sprintf("Error: invalid x402 payment metadata: %v", err)), nil, nil
		}
		call.PaymentProof = proof
	}

	httpReq, err := buildProxyHTTPRequest(ctx, *resource, s.cookieName, call)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build proxy request: %w", err)
	}
	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn().Err(err).Str("resource", resource.Resource).Msg("proxy request failed")
		return nil, nil, fmt.Errorf("proxy request failed: %w", err)
	}
	defer httpResp.Body.Close()

	s.logger.Debug().
		Str("resource", resource.Resource).
		Int("status", httpResp.StatusCode).
		Bool("paid", call.PaymentProof != "").
		Msg("proxied tool call")
	result, err := httpResponseToMCPResult(httpResp, s.cookieName)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func requestMeta(req *mcp.CallToolRequest) map[string]any {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.GetMeta()
}

func filterDiscoveryResources(items []DiscoveryResource, query string) []DiscoveryResource {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	filtered := make([]DiscoveryResource, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Resource), query) ||
			strings.Contains(strings.ToLower(item.description()), query) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func paginateResources(items []DiscoveryResource, limit, offset *int) ([]DiscoveryResource, SearchResourcesPagination) {
	total := len(items)
	start := 0
	if offset != nil && *offset > 0 {
		start = min(*offset, total)
	}
	end := total
	if limit != nil && *limit >= 0 {
		end = min(start+*limit, total)
	}
	return items[start:end], SearchResourcesPagination{
		Limit:  copyInt(limit),
		Offset: copyInt(offset),
		Total:  &total,
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func searchResourcesOutputSchema() map[string]any {
	object := func(props map[string]any) map[string]any {
		return map[string]any{"type": "object", "properties": props, "additionalProperties": false}
	}
	anyObject := map[string]any{"type": "object", "additionalProperties": true}
	integer := map[string]any{"type": "integer"}
	str := map[string]any{"type": "string"}

	return object(map[string]any{
		"pagination":  object(map[string]any{"limit": integer, "offset": integer, "total": integer}),
		"x402Version": integer,
		"tools": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"_meta":        anyObject,
				"name":         str,
				"title":        str,
				"description":  str,
				"inputSchema":  anyObject,
				"outputSchema": anyObject,
				"annotations":  anyObject,
			}),
		},
	})
}

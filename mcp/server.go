// Package mcp exposes the paywalled routes to AI agents over the Model Context
// Protocol: discovery of x402 resources, a proxy that calls them with an
// attached payment, and natively paid tools gated by the same paywall.
package mcp

import (
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const defaultProxyTimeout = 30 * time.Second

// Options configures a Server.
type Options struct {
	// Resources are the gated routes offered through search_resources and proxy_tool_call.
	Resources []DiscoveryResource
	// CookieName is the session cookie the proxied routes read and set.
	CookieName string
	// Client performs proxied calls. Defaults to a client with a 30s timeout.
	Client *http.Client
	Logger zerolog.Logger
}

// Server wraps the MCP server implementation for x402 discovery.
type Server struct {
	mcpServer  *mcp.Server
	resources  []DiscoveryResource
	cookieName string
	client     *http.Client
	logger     zerolog.Logger
}

// NewServer creates the MCP server and registers the discovery tools.
func NewServer(opts Options) *Server {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProxyTimeout}
	}
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = "auth_token"
	}

	s := &Server{
		mcpServer: mcp.NewServer(
			&mcp.Implementation{
				Name:    "x402-paywall",
				Version: "1.0.0",
			},
			&mcp.ServerOptions{},
		),
		resources:  opts.Resources,
		cookieName: cookieName,
		client:     client,
		logger:     opts.Logger.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server, for registering extra tools.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Handler returns an http.Handler for the MCP streamable HTTP transport.
// It is mounted at /discovery/mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/andrewreder/x402-paywall/go-api/config"
	"github.com/andrewreder/x402-paywall/go-api/logging"
	mcpserver "github.com/andrewreder/x402-paywall/go-api/mcp"
	"github.com/andrewreder/x402-paywall/go-api/paywall"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Deps are the collaborators the router is built from.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Verifier x402.Verifier
	// Registry receives the paywall metrics and backs GET /metrics.
	Registry *prometheus.Registry
	// Now defaults to time.Now.
	Now func() time.Time
}

// PremiumResponse is the body of GET /premium.
type PremiumResponse struct {
	Message string      `json:"message"`
	Data    PremiumData `json:"data"`
}

type PremiumData struct {
	Secret        string `json:"secret"`
	Timestamp     string `json:"timestamp"`
	Authenticated string `json:"authenticated"`
}

// NewRouter builds the Gin router with all HTTP routes registered.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	metrics, err := paywall.NewMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}
	payments, err := ConfigurePayments(deps.Config, deps.Verifier, metrics)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(deps.Logger))

	registerPublicRoutes(r, deps.Registry)
	registerPremiumRoutes(r, payments, deps.Now)
	registerDiscoveryRoutes(r, payments, deps)

	return r, nil
}

func registerPublicRoutes(r *gin.Engine, registry *prometheus.Registry) {
	// GET /message - public, no payment required
	r.GET("/message", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello Gin!")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func registerPremiumRoutes(r *gin.Engine, payments *Payments, now func() time.Time) {
	// GET /premium - requires a session cookie or an X-PAYMENT proof
	r.Handle(payments.Premium.Method, payments.Premium.Path, payments.middleware(payments.Premium), func(c *gin.Context) {
		auth, _ := paywall.AuthFromGin(c)
		c.JSON(http.StatusOK, premiumContent(auth, now()))
	})
}

func premiumContent(auth paywall.AuthContext, now time.Time) PremiumResponse {
	via := paywall.ViaPayment
	if auth.HasSession() {
		via = paywall.ViaToken
	}
	return PremiumResponse{
		Message: "Welcome to premium content!",
		Data: PremiumData{
			Secret:        "This is valuable premium data",
			Timestamp:     now.UTC().Format(timestampLayout),
			Authenticated: via.String(),
		},
	}
}

func registerDiscoveryRoutes(r *gin.Engine, payments *Payments, deps Deps) {
	started := deps.Now()
	resources := make([]mcpserver.DiscoveryResource, 0, len(payments.Routes()))
	for _, route := range payments.Routes() {
		resources = append(resources, mcpserver.NewDiscoveryResource(route.Method, route.Gate.Challenge(), started))
	}

	// GET /discovery/x402 - x402 entries for the gated HTTP endpoints
	r.GET("/discovery/x402", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": resources})
	})

	// MCP streamable HTTP endpoint
	server := mcpserver.NewServer(mcpserver.Options{
		Resources:  resources,
		CookieName: payments.Cookie.Name,
		Logger:     deps.Logger,
	})
	registerPremiumTool(server, payments.Premium.Gate, deps.Now)
	r.Any("/discovery/mcp", gin.WrapH(server.Handler()))
}

type premiumToolInput struct{}

// registerPremiumTool exposes the premium content as a natively paid MCP tool
// sharing the /premium gate.
func registerPremiumTool(server *mcpserver.Server, gate *paywall.Gate, now func() time.Time) {
	sdkmcp.AddTool(server.MCPServer(), &sdkmcp.Tool{
		Name:        "get_premium_content",
		Title:       "Premium Content",
		Description: "Returns the premium content. Attach an x402 v1 payment in meta x402/payment, or a session token in meta x402/session.",
		Meta: map[string]any{
			mcpserver.MetaKeyPaymentRequired: gate.Challenge(),
		},
	}, mcpserver.PaidToolHandler(gate, func(ctx context.Context, req *sdkmcp.CallToolRequest, _ premiumToolInput) (*sdkmcp.CallToolResult, any, error) {
		auth, _ := paywall.AuthFromContext(ctx)
		content := premiumContent(auth, now())
		return &sdkmcp.CallToolResult{
			Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: content.Message}},
			StructuredContent: content,
		}, nil, nil
	}))
}

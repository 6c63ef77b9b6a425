package httpapi

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/andrewreder/x402-paywall/go-api/config"
	"github.com/andrewreder/x402-paywall/go-api/paywall"
	"github.com/andrewreder/x402-paywall/go-api/session"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// PaidRoute is one gated endpoint and the gate guarding it.
type PaidRoute struct {
	Method string
	Path   string
	Gate   *paywall.Gate
}

// Payments holds everything needed to enforce payment on the gated routes.
type Payments struct {
	Premium PaidRoute
	Cookie  paywall.CookieConfig
}

// Routes lists the gated routes, in registration order.
func (p *Payments) Routes() []PaidRoute {
	return []PaidRoute{p.Premium}
}

// ConfigurePayments builds the challenge, session codec and gate for every paid
// route. Any error here is a configuration error and must stop startup.
func ConfigurePayments(cfg *config.Config, verifier x402.Verifier, metrics *paywall.Metrics) (*Payments, error) {
	codec, err := session.NewCodec([]byte(cfg.JWTSecret), cfg.SessionValidity())
	if err != nil {
		return nil, fmt.Errorf("session codec: %w", err)
	}

	challenge, err := x402.BuildChallenge(x402.RouteConfig{
		Price:       cfg.PremiumPrice,
		Network:     cfg.Network,
		Description: cfg.PremiumDescription,
		Resource:    cfg.BaseURLTrimmed() + "/premium",
		PayTo:       cfg.PayTo,
	})
	if err != nil {
		return nil, fmt.Errorf("premium route: %w", err)
	}

	gate, err := paywall.NewGate(codec, verifier, challenge, paywall.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("premium gate: %w", err)
	}

	return &Payments{
		Premium: PaidRoute{Method: "GET", Path: "/premium", Gate: gate},
		Cookie: paywall.CookieConfig{
			Name:   cfg.SessionCookieName,
			Secure: cfg.CookieSecure,
		},
	}, nil
}

func (p *Payments) middleware(route PaidRoute) gin.HandlerFunc {
	return paywall.Middleware(route.Gate, p.Cookie)
}

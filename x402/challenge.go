package x402

import (
	"maps"
	"math/big"
	"regexp"
	"strings"
)

const (
	DefaultMimeType          = "application/json"
	DefaultMaxTimeoutSeconds = 60
)

// RouteConfig enumerates the payment terms of one protected route.
type RouteConfig struct {
	// Price is a human currency amount such as "$0.01".
	Price string
	// Network is an x402 v1 network name such as "base-sepolia".
	Network     string
	Description string
	// Resource identifies the gated resource, usually its absolute URL.
	Resource string
	PayTo    string
	// MimeType defaults to application/json.
	MimeType string
	// MaxTimeoutSeconds defaults to 60.
	MaxTimeoutSeconds int
}

var priceRe = regexp.MustCompile(`^\$?([0-9]+(?:\.[0-9]+)?|\.[0-9]+)$`)

// ParsePrice converts a human decimal price ("$0.01") into the smallest-unit
// integer string for an asset with the given decimals ("10000" for USDC).
// Prices finer than the smallest unit are rejected rather than rounded.
func ParsePrice(price string, decimals int) (string, error) {
	m := priceRe.FindStringSubmatch(strings.TrimSpace(price))
	if m == nil {
		return "", invalidRoute("price %q is not a non-negative decimal amount", price)
	}
	digits := m[1]
	if strings.HasPrefix(digits, ".") {
		digits = "0" + digits
	}
	amount, ok := new(big.Rat).SetString(digits)
	if !ok {
		return "", invalidRoute("price %q is not a non-negative decimal amount", price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	amount.Mul(amount, new(big.Rat).SetInt(scale))
	if !amount.IsInt() {
		return "", invalidRoute("price %q has more precision than %d decimals", price, decimals)
	}
	return amount.Num().String(), nil
}

// BuildChallenge maps a route configuration onto the 402 payload advertising
// the accepted payment terms. The result is deterministic for a given config,
// so it is built once at startup and reused per request.
func BuildChallenge(cfg RouteConfig) (*PaymentChallenge, error) {
	network, ok := LookupNetwork(cfg.Network)
	if !ok {
		return nil, invalidRoute("unsupported network %q", cfg.Network)
	}
	if err := ValidateAddress(network.Family, cfg.PayTo); err != nil {
		return nil, invalidRoute("payTo: %v", err)
	}
	if err := ValidateAddress(network.Family, network.Asset); err != nil {
		return nil, invalidRoute("asset: %v", err)
	}
	if cfg.Resource == "" {
		return nil, invalidRoute("resource must be set")
	}
	if cfg.MaxTimeoutSeconds < 0 {
		return nil, invalidRoute("maxTimeoutSeconds must not be negative")
	}

	amount, err := ParsePrice(cfg.Price, network.Decimals)
	if err != nil {
		return nil, err
	}

	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	timeout := cfg.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultMaxTimeoutSeconds
	}

	return &PaymentChallenge{
		Error: ErrorPaymentRequired,
		Accepts: []PaymentRequirement{
			{
				Scheme:            SchemeExact,
				Network:           network.Name,
				MaxAmountRequired: amount,
				Resource:          cfg.Resource,
				Description:       cfg.Description,
				MimeType:          mimeType,
				MaxTimeoutSeconds: timeout,
				PayTo:             cfg.PayTo,
				Asset:             network.Asset,
				Extra:             maps.Clone(network.Extra),
			},
		},
		X402Version: X402Version,
	}, nil
}

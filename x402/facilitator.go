package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
	x402sdk "github.com/coinbase/x402/go"
	x402http "github.com/coinbase/x402/go/http"
)

const (
	CoinbaseFacilitatorBaseURL = "https://api.cdp.coinbase.com"
	CoinbaseFacilitatorV2Route = "/platform/v2/x402"

	X402SDKVersion = "0.7.3"
	CDPSDKVersion  = "1.29.0"
)

// FacilitatorClient is the subset of the x402 facilitator API the verifier needs.
// *x402http.HTTPFacilitatorClient satisfies it.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
}

// FacilitatorVerifier delegates payment verification (and optionally
// settlement) to a remote x402 facilitator.
type FacilitatorVerifier struct {
	client FacilitatorClient
	settle bool
}

// NewFacilitatorVerifier returns a Verifier backed by client. When settle is
// true an accepted payment is settled before Verify returns.
func NewFacilitatorVerifier(client FacilitatorClient, settle bool) *FacilitatorVerifier {
	return &FacilitatorVerifier{client: client, settle: settle}
}

// Verify implements Verifier.
func (v *FacilitatorVerifier) Verify(ctx context.Context, proof string, requirement PaymentRequirement) (*Verification, error) {
	payload, payloadBytes, err := DecodePaymentProof(proof)
	if err != nil {
		return nil, err
	}
	if !payload.matches(requirement) {
		return nil, Rejected(ReasonRequirementsMismatch)
	}
	requirementBytes, err := json.Marshal(requirement)
	if err != nil {
		return nil, fmt.Errorf("encode requirement: %w", err)
	}

	verified, err := v.client.Verify(ctx, payloadBytes, requirementBytes)
	if err != nil {
		return nil, facilitatorError("facilitator verify", err)
	}
	if verified == nil {
		return nil, unavailable("facilitator verify", errors.New("empty response"))
	}
	if !verified.IsValid {
		return nil, Rejected(verified.InvalidReason)
	}

	result := &Verification{Payer: verified.Payer}
	if !v.settle {
		return result, nil
	}

	settled, err := v.client.Settle(ctx, payloadBytes, requirementBytes)
	if err != nil {
		return nil, facilitatorError("facilitator settle", err)
	}
	if settled == nil {
		return nil, unavailable("facilitator settle", errors.New("empty response"))
	}
	if !settled.Success {
		return nil, settlementRejected(settled.ErrorReason)
	}
	if result.Payer == "" {
		result.Payer = settled.Payer
	}
	result.Settlement = settled
	return result, nil
}

// facilitatorError classifies a facilitator client error. The HTTP client
// reports a facilitator's invalidReason or errorReason as *x402sdk.VerifyError
// or *x402sdk.SettleError; those are rejections unless the body could not be
// parsed. Everything else is a transient failure.
func facilitatorError(op string, err error) error {
	var verifyErr *x402sdk.VerifyError
	if errors.As(err, &verifyErr) && verifyErr.InvalidReason != x402sdk.ErrInvalidResponse {
		return Rejected(verifyErr.InvalidReason)
	}
	var settleErr *x402sdk.SettleError
	if errors.As(err, &settleErr) && settleErr.ErrorReason != x402sdk.ErrInvalidResponse {
		return settlementRejected(settleErr.ErrorReason)
	}
	return unavailable(op, err)
}

func settlementRejected(reason string) error {
	if reason == "" {
		reason = ReasonSettlementFailed
	}
	return Rejected(reason)
}

// NewFacilitatorClient builds an HTTP facilitator client. An empty URL selects
// the Coinbase hosted facilitator; CDP JWT auth is attached when both keys are
// set and the URL points at Coinbase.
func NewFacilitatorClient(facilitatorURL, apiKeyID, apiKeySecret string) *x402http.HTTPFacilitatorClient {
	return x402http.NewHTTPFacilitatorClient(FacilitatorConfig(facilitatorURL, apiKeyID, apiKeySecret))
}

// FacilitatorConfig resolves the facilitator URL and auth provider.
func FacilitatorConfig(facilitatorURL, apiKeyID, apiKeySecret string) *x402http.FacilitatorConfig {
	apiKeyID = strings.TrimSpace(apiKeyID)
	apiKeySecret = strings.TrimSpace(apiKeySecret)
	facilitatorURL = strings.TrimRight(strings.TrimSpace(facilitatorURL), "/")

	if facilitatorURL == "" {
		facilitatorURL = CoinbaseFacilitatorBaseURL + CoinbaseFacilitatorV2Route
	}

	config := &x402http.FacilitatorConfig{
		URL: facilitatorURL,
	}
	if apiKeyID != "" && apiKeySecret != "" && strings.Contains(facilitatorURL, "coinbase") {
		config.AuthProvider = NewCoinbaseAuthProvider(apiKeyID, apiKeySecret)
	}
	return config
}

// CoinbaseAuthProvider generates auth headers for Coinbase facilitator requests.
type CoinbaseAuthProvider struct {
	apiKeyID     string
	apiKeySecret string
	requestHost  string
}

// NewCoinbaseAuthProvider builds a provider for Coinbase facilitator auth.
func NewCoinbaseAuthProvider(apiKeyID, apiKeySecret string) *CoinbaseAuthProvider {
	return &CoinbaseAuthProvider{
		apiKeyID:     apiKeyID,
		apiKeySecret: apiKeySecret,
		requestHost:  coinbaseRequestHost(),
	}
}

// GetAuthHeaders implements the x402 HTTP AuthProvider interface. Without
// credentials only the correlation header is sent.
func (p *CoinbaseAuthProvider) GetAuthHeaders(ctx context.Context) (x402http.AuthHeaders, error) {
	var headers x402http.AuthHeaders
	endpoints := []struct {
		method, path string
		target       *map[string]string
	}{
		{"POST", "/verify", &headers.Verify},
		{"POST", "/settle", &headers.Settle},
		{"GET", "/supported", &headers.Supported},
	}

	for _, ep := range endpoints {
		h := map[string]string{"Correlation-Context": createCorrelationHeader()}
		if p.apiKeyID != "" && p.apiKeySecret != "" {
			auth, err := createAuthHeader(p.apiKeyID, p.apiKeySecret, ep.method, p.requestHost, CoinbaseFacilitatorV2Route+ep.path)
			if err != nil {
				return x402http.AuthHeaders{}, err
			}
			h["Authorization"] = auth
		}
		*ep.target = h
	}
	return headers, nil
}

func createAuthHeader(apiKeyID, apiKeySecret, requestMethod, requestHost, requestPath string) (string, error) {
	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         apiKeyID,
		KeySecret:     apiKeySecret,
		RequestMethod: requestMethod,
		RequestHost:   requestHost,
		RequestPath:   requestPath,
	})
	if err != nil {
		return "", fmt.Errorf("generate JWT: %w", err)
	}
	return "Bearer " + jwt, nil
}

func createCorrelationHeader() string {
	data := map[string]string{
		"sdk_version":    CDPSDKVersion,
		"sdk_language":   "go",
		"source":         "x402-paywall",
		"source_version": X402SDKVersion,
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(data[key])))
	}
	return strings.Join(parts, ",")
}

func coinbaseRequestHost() string {
	parsed, err := url.Parse(CoinbaseFacilitatorBaseURL)
	if err != nil || parsed.Host == "" {
		return strings.TrimPrefix(CoinbaseFacilitatorBaseURL, "https://")
	}
	return parsed.Host
}

// Package paywall implements the dual-mode authentication gate: a request is
// admitted by a valid session token or by a verified x402 payment, and a
// fresh session token is issued after every admission by payment.
//
// Gate.Decide is the transport-independent decision procedure; Middleware
// adapts it to gin.
package paywall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrewreder/x402-paywall/go-api/session"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// ErrRequestCanceled is the rejection cause when the caller went away before
// the verifier answered. Nothing is written and no token is issued.
var ErrRequestCanceled = errors.New("paywall: request canceled during payment verification")

// Kind is the terminal state of a gate decision.
type Kind int

const (
	// Admitted lets the request through to the resource handler.
	Admitted Kind = iota + 1
	// Challenged answers with the payment challenge (no credentials presented).
	Challenged
	// Rejected answers with a payment failure; see Outcome.Err.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Admitted:
		return "admitted"
	case Challenged:
		return "challenged"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Via records which credential admitted a request.
type Via int

const (
	ViaNone Via = iota
	ViaToken
	ViaPayment
)

func (v Via) String() string {
	switch v {
	case ViaToken:
		return "via cookie"
	case ViaPayment:
		return "via payment"
	default:
		return ""
	}
}

// Credentials are the two carriers the gate reads from a request.
type Credentials struct {
	// SessionToken is the cookie value, empty when absent.
	SessionToken string
	// PaymentProof is the X-PAYMENT header value, empty when absent.
	PaymentProof string
}

// AuthContext is the verified identity attached to an admitted request.
// IssuedAt and ExpiresAt are set only when a prior session admitted it.
type AuthContext struct {
	Paid      bool
	IssuedAt  *time.Time
	ExpiresAt *time.Time
	// Payer is the verified payer address for admissions by payment.
	Payer string
}

// HasSession reports whether access came from a pre-existing session token.
func (a AuthContext) HasSession() bool {
	return a.IssuedAt != nil && a.ExpiresAt != nil
}

// NewToken is a session token minted on Admitted(viaPayment).
type NewToken struct {
	Value  string
	Claims session.Claims
	MaxAge time.Duration
}

// Outcome is the result of Gate.Decide.
type Outcome struct {
	Kind Kind
	Via  Via
	Auth AuthContext
	// Token is non-nil exactly when Kind == Admitted and Via == ViaPayment.
	Token *NewToken
	// Settlement is the facilitator settlement for admissions by payment, when settled.
	Settlement *x402.SettleResponse
	// Challenge is set for Challenged and for definitive payment rejections.
	Challenge *x402.PaymentChallenge
	// Err is x402.ErrPaymentProofMissing for Challenged. For Rejected it is a
	// *x402.RejectedError, an error wrapping x402.ErrVerifierUnavailable,
	// ErrRequestCanceled or an internal failure.
	Err error
}

// Gate holds the read-only dependencies of the decision procedure.
type Gate struct {
	codec     *session.Codec
	verifier  x402.Verifier
	challenge *x402.PaymentChallenge
	metrics   *Metrics
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithClock overrides the time source used to measure verifier latency.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate for one protected resource. The challenge must list at
// least one requirement.
func NewGate(codec *session.Codec, verifier x402.Verifier, challenge *x402.PaymentChallenge, opts ...Option) (*Gate, error) {
	if codec == nil || verifier == nil || challenge == nil {
		return nil, errors.New("paywall: codec, verifier and challenge are required")
	}
	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("%w: challenge accepts no payment methods", x402.ErrInvalidRouteConfig)
	}
	g := &Gate{
		codec:     codec,
		verifier:  verifier,
		challenge: challenge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Challenge returns the payment challenge advertised by this gate.
func (g *Gate) Challenge() *x402.PaymentChallenge {
	return g.challenge
}

// TokenValidity is the lifetime of tokens issued by this gate.
func (g *Gate) TokenValidity() time.Duration {
	return g.codec.Validity()
}

// Decide runs the token check, then the payment check, and returns the
// terminal outcome. A token that fails verification is treated exactly like a
// missing one.
func (g *Gate) Decide(ctx context.Context, creds Credentials) Outcome {
	out := g.decide(ctx, creds)
	g.metrics.observeOutcome(out)
	return out
}

func (g *Gate) decide(ctx context.Context, creds Credentials) Outcome {
	logger := zerolog.Ctx(ctx)

	if creds.SessionToken != "" {
		claims, err := g.codec.Verify(creds.SessionToken)
		if err == nil {
			iat, exp := claims.IssuedAt.Time, claims.ExpiresAt.Time
			return Outcome{
				Kind: Admitted,
				Via:  ViaToken,
				Auth: AuthContext{Paid: true, IssuedAt: &iat, ExpiresAt: &exp},
			}
		}
		logger.Debug().Err(err).Msg("session token rejected, falling back to payment")
	}

	if creds.PaymentProof == "" {
		return Outcome{Kind: Challenged, Challenge: g.challenge, Err: x402.ErrPaymentProofMissing}
	}

	verification, err := g.verify(ctx, creds.PaymentProof)
	if err != nil {
		out := Outcome{Kind: Rejected, Err: err}
		if reason, ok := x402.RejectReason(err); ok {
			out.Challenge = g.challenge.WithError(reason)
		}
		return out
	}

	// Issuance is tied to this transition and happens once per admitted request.
	token, claims, err := g.codec.Issue()
	if err != nil {
		logger.Error().Err(err).Msg("issue session token")
		return Outcome{Kind: Rejected, Err: fmt.Errorf("paywall: issue session token: %w", err)}
	}
	return Outcome{
		Kind:       Admitted,
		Via:        ViaPayment,
		Auth:       AuthContext{Paid: true, Payer: verification.Payer},
		Token:      &NewToken{Value: token, Claims: claims, MaxAge: g.codec.Validity()},
		Settlement: verification.Settlement,
	}
}

// verify tries each accepted requirement in order until one is accepted.
// A transient failure outranks definitive rejections so the client knows it
// may retry; among rejections the first from a matching requirement wins.
func (g *Gate) verify(ctx context.Context, proof string) (*x402.Verification, error) {
	logger := zerolog.Ctx(ctx)

	var rejection, unavailable error
	for _, requirement := range g.challenge.Accepts {
		verification, err := g.verifyOne(ctx, proof, requirement)
		if ctx.Err() != nil {
			// The caller is gone; discard whatever the verifier said.
			return nil, ErrRequestCanceled
		}
		if err == nil {
			logger.Info().
				Str("payer", verification.Payer).
				Str("network", requirement.Network).
				Msg("payment accepted")
			return verification, nil
		}

		if reason, ok := x402.RejectReason(err); ok {
			logger.Info().Str("reason", reason).Str("network", requirement.Network).Msg("payment rejected")
			if rejection == nil || isMismatch(rejection) {
				rejection = err
			}
			continue
		}

		logger.Warn().Err(err).Str("network", requirement.Network).Msg("payment verifier unavailable")
		if unavailable == nil {
			if errors.Is(err, x402.ErrVerifierUnavailable) {
				unavailable = err
			} else {
				unavailable = fmt.Errorf("%w: %w", x402.ErrVerifierUnavailable, err)
			}
		}
	}

	if unavailable != nil {
		return nil, unavailable
	}
	if rejection == nil {
		rejection = x402.Rejected(x402.ReasonVerificationFailed)
	}
	return nil, rejection
}

// verifyOne calls the verifier with the requirement's maxTimeoutSeconds as deadline.
func (g *Gate) verifyOne(ctx context.Context, proof string, requirement x402.PaymentRequirement) (*x402.Verification, error) {
	timeout := time.Duration(requirement.MaxTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds * time.Second
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := g.now()
	verification, err := g.verifier.Verify(vctx, proof, requirement)
	if err == nil && verification == nil {
		// An acceptance without a verification is a verifier fault.
		err = fmt.Errorf("%w: verifier accepted without a verification", x402.ErrVerifierUnavailable)
	}
	g.metrics.observeVerify(g.now().Sub(start), err)

	if err == nil && vctx.Err() != nil {
		// An answer that arrived after the deadline is not trusted.
		err = vctx.Err()
	}
	if err != nil && vctx.Err() != nil && !errors.Is(err, x402.ErrVerifierUnavailable) {
		if _, rejected := x402.RejectReason(err); !rejected {
			err = fmt.Errorf("%w: %w", x402.ErrVerifierUnavailable, err)
		}
	}
	return verification, err
}

func isMismatch(err error) bool {
	reason, _ := x402.RejectReason(err)
	return reason == x402.ReasonRequirementsMismatch
}

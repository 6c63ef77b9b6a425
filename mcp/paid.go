package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/andrewreder/x402-paywall/go-api/paywall"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

var errPaidToolInternal = errors.New("paid tool: internal error")

// PaidToolHandler guards an MCP tool with gate. Credentials come from the call
// meta: a session token in x402/session or a v1 payment object in x402/payment.
// Admitted calls run handler with the AuthContext in ctx; a token issued for a
// payment is returned in the result meta under x402/session, also when handler
// fails.
func PaidToolHandler[In, Out any](
	gate *paywall.Gate,
	handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error),
) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		var zero Out

		meta := requestMeta(req)
		var creds paywall.Credentials
		if token, ok := meta[MetaKeySession].(string); ok {
			creds.SessionToken = token
		}
		if payment, ok := meta[MetaKeyPayment]; ok && payment != nil {
			proof, err := encodePaymentProof(payment)
			if err != nil {
				return paymentRequiredResult(gate.Challenge().WithError(x402.ReasonInvalidPayment)), zero, nil
			}
			creds.PaymentProof = proof
		}

		out := gate.Decide(ctx, creds)
		switch out.Kind {
		case paywall.Admitted:
			result, output, err := handler(paywall.WithAuth(ctx, out.Auth), req, input)
			if err != nil {
				// The payment is already settled; the issued session still goes back.
				zerolog.Ctx(ctx).Warn().Err(err).Msg("paid tool handler failed after admission")
				result, output = errorResult(err.Error()), zero
			}
			if result == nil {
				result = &mcp.CallToolResult{}
			}
			if result.Meta == nil {
				result.Meta = map[string]any{}
			}
			if out.Token != nil {
				result.Meta[MetaKeySession] = out.Token.Value
			}
			if out.Settlement != nil {
				result.Meta[MetaKeyPaymentResponse] = out.Settlement
			}
			return result, output, nil

		case paywall.Challenged:
			return paymentRequiredResult(out.Challenge), zero, nil
		}

		switch {
		case errors.Is(out.Err, paywall.ErrRequestCanceled):
			return nil, zero, out.Err
		case out.Challenge != nil:
			return paymentRequiredResult(out.Challenge), zero, nil
		case errors.Is(out.Err, x402.ErrVerifierUnavailable):
			return errorResult(paywall.ErrorVerifierUnavailable), zero, nil
		default:
			zerolog.Ctx(ctx).Error().Err(out.Err).Msg("paid tool call failed")
			return nil, zero, errPaidToolInternal
		}
	}
}

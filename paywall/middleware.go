package paywall

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andrewreder/x402-paywall/go-api/logging"
	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// ErrorVerifierUnavailable is the 503 body error when the verifier could not answer.
const ErrorVerifierUnavailable = "verifier_unavailable"

// RetryAfterSeconds is advertised with 503 responses.
const RetryAfterSeconds = 5

// CookieConfig controls the session cookie written after admission by payment.
type CookieConfig struct {
	Name string
	// Secure should only be false for plain-HTTP local development.
	Secure bool
}

// Middleware enforces gate on every request of the route it is attached to.
// Admitted requests continue with the AuthContext bound to both the gin context
// and the request context; everything else is answered here.
func Middleware(gate *Gate, cookie CookieConfig) gin.HandlerFunc {
	if cookie.Name == "" {
		cookie.Name = "auth_token"
	}
	return func(c *gin.Context) {
		logger := logging.FromGin(c)

		var creds Credentials
		if v, err := c.Cookie(cookie.Name); err == nil {
			creds.SessionToken = v
		}
		creds.PaymentProof = c.GetHeader(x402.HeaderPayment)

		out := gate.Decide(c.Request.Context(), creds)

		switch out.Kind {
		case Admitted:
			c.Set(ginAuthKey, out.Auth)
			c.Request = c.Request.WithContext(WithAuth(c.Request.Context(), out.Auth))
			if out.Token != nil {
				http.SetCookie(c.Writer, sessionCookie(cookie, out.Token))
			}
			if out.Settlement != nil {
				if header, err := x402.EncodePaymentHeader(out.Settlement); err == nil {
					c.Header(x402.HeaderPaymentResponse, header)
				} else {
					logger.Warn().Err(err).Msg("encode payment response header")
				}
			}
			c.Next()

		case Challenged:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, out.Challenge)

		default:
			writeRejection(c, out)
		}
	}
}

func writeRejection(c *gin.Context, out Outcome) {
	switch {
	case errors.Is(out.Err, ErrRequestCanceled):
		// The client is gone; there is nobody to answer.
		c.Abort()
	case out.Challenge != nil:
		c.AbortWithStatusJSON(http.StatusPaymentRequired, out.Challenge)
	case errors.Is(out.Err, x402.ErrVerifierUnavailable):
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":       ErrorVerifierUnavailable,
			"x402Version": x402.X402Version,
		})
	default:
		_ = c.Error(out.Err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func sessionCookie(cfg CookieConfig, token *NewToken) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    token.Value,
		Path:     "/",
		MaxAge:   int(token.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

package paywall

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey struct{}

const ginAuthKey = "paywall.auth"

// WithAuth attaches the verified auth context to ctx.
func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

// AuthFromContext returns the auth context set by the gate, if any.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(contextKey{}).(AuthContext)
	return auth, ok
}

// AuthFromGin is AuthFromContext for gin handlers.
func AuthFromGin(c *gin.Context) (AuthContext, bool) {
	if v, ok := c.Get(ginAuthKey); ok {
		if auth, ok := v.(AuthContext); ok {
			return auth, true
		}
	}
	return AuthFromContext(c.Request.Context())
}

// Package session issues and validates the short-lived session tokens handed
// out after a successful payment. Tokens are stateless HS256 JWTs carrying
// only {paid, iat, exp}; they cannot be revoked before they expire.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, tampered with, or expired.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrInvalidConfig is returned by NewCodec for an unusable secret or validity window.
	ErrInvalidConfig = errors.New("session: secret must be non-empty and validity at least one second")
)

// Claims is the decoded content of a session token.
type Claims struct {
	Paid bool `json:"paid"`
	jwt.RegisteredClaims
}

// IssuedAtUnix returns iat in seconds, or 0 when absent.
func (c Claims) IssuedAtUnix() int64 {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

// ExpiresAtUnix returns exp in seconds, or 0 when absent.
func (c Claims) ExpiresAtUnix() int64 {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}

// Codec signs and verifies session tokens. It is safe for concurrent use; the
// secret is never mutated after construction.
type Codec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat/exp and for validation.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a Codec signing with secret. validity is truncated to whole seconds.
func NewCodec(secret []byte, validity time.Duration, opts ...Option) (*Codec, error) {
	validity = validity.Truncate(time.Second)
	if len(secret) == 0 || validity < time.Second {
		return nil, ErrInvalidConfig
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	c := &Codec{
		secret:   key,
		validity: validity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validity is the configured lifetime of issued tokens.
func (c *Codec) Validity() time.Duration {
	return c.validity
}

// Issue creates a token for {paid: true, iat: now, exp: now + validity}.
func (c *Codec) Issue() (string, Claims, error) {
	iat := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		Paid: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(c.validity)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// Verify checks signature and expiry and returns the decoded claims.
// A token is expired once now reaches exp. Every failure is ErrInvalidToken.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if !claims.Paid || claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Package config loads and validates the paywall service configuration from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Load.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BaseURL is the externally visible origin used to build resource URLs in payment challenges.
	BaseURL string `mapstructure:"BASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTSecret is the HMAC key for session tokens. Required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// SessionTTL is the session token lifetime (e.g. "1h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionCookieName is the cookie carrying the session token.
	SessionCookieName string `mapstructure:"SESSION_COOKIE_NAME"`
	// CookieSecure sets the Secure attribute on the session cookie. Must stay true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// PayTo is the recipient address for payments. Required.
	PayTo string `mapstructure:"PAY_TO"`
	// Network is the x402 v1 network name (e.g. "base-sepolia").
	Network string `mapstructure:"NETWORK"`
	// PremiumPrice is the human price of /premium (e.g. "$0.01").
	PremiumPrice string `mapstructure:"PREMIUM_PRICE"`
	// PremiumDescription is advertised in the payment challenge for /premium.
	PremiumDescription string `mapstructure:"PREMIUM_DESCRIPTION"`

	// FacilitatorURL is the x402 facilitator base URL (verify and settle are appended).
	FacilitatorURL string `mapstructure:"FACILITATOR_URL"`
	// CDPAPIKey and CDPAPIKeySecret enable Coinbase facilitator auth when both are set.
	CDPAPIKey       string `mapstructure:"CDP_API_KEY"`
	CDPAPIKeySecret string `mapstructure:"CDP_API_KEY_SECRET"`
	// SettlePayments settles a verified payment before the resource is served.
	SettlePayments bool `mapstructure:"SETTLE_PAYMENTS"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty switches to human-readable console output.
	LogPretty bool `mapstructure:"LOG_PRETTY"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored; an unreadable or malformed one is an error. Env vars override .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !configFileMissing(err) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, envFile, err)
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("SESSION_COOKIE_NAME", "auth_token")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("PAY_TO", "")
	v.SetDefault("NETWORK", "base-sepolia")
	v.SetDefault("PREMIUM_PRICE", "$0.01")
	v.SetDefault("PREMIUM_DESCRIPTION", "Access to premium content for 1 hour")
	v.SetDefault("FACILITATOR_URL", "https://x402.org/facilitator")
	v.SetDefault("CDP_API_KEY", "")
	v.SetDefault("CDP_API_KEY_SECRET", "")
	v.SetDefault("SETTLE_PAYMENTS", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return invalid("HTTP_ADDR must be set")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return invalid("JWT_SECRET must be set")
	}
	if len(c.JWTSecret) < 32 && c.Env == "production" {
		return invalid("JWT_SECRET must be at least 32 bytes when APP_ENV=production")
	}
	if strings.TrimSpace(c.PayTo) == "" {
		return invalid("PAY_TO must be set")
	}
	if _, err := time.ParseDuration(c.SessionTTL); err != nil {
		return invalid("SESSION_TTL must be a duration (e.g. 1h)")
	}
	if c.SessionValidity() < time.Second {
		return invalid("SESSION_TTL must be at least 1s")
	}
	if c.SessionCookieName == "" {
		return invalid("SESSION_COOKIE_NAME must be set")
	}
	if !c.CookieSecure && c.Env == "production" {
		return invalid("COOKIE_SECURE must not be false when APP_ENV=production")
	}
	if c.FacilitatorURL == "" {
		return invalid("FACILITATOR_URL must be set")
	}
	return nil
}

// SessionValidity parses SessionTTL, truncated to whole seconds since token timestamps are in seconds.
func (c *Config) SessionValidity() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0
	}
	return d.Truncate(time.Second)
}

// BaseURLTrimmed returns BaseURL without a trailing slash.
func (c *Config) BaseURLTrimmed() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

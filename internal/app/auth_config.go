package app

import (
	"strings"

	"github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/middleware"
)

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	length := c.Session.TokenBytes
	if length <= 0 {
		length = auth.DefaultTokenBytes
	}

	return auth.SessionConfig{
		TTL:        ttl,
		TokenBytes: length,
	}
}

// Transport returns the configured credential carrier name.
func (c AuthConfig) Transport() string {
	transport := strings.ToLower(strings.TrimSpace(c.Session.Transport))
	if transport == "" {
		return auth.TransportCookie
	}
	return transport
}

// SuspiciousIPThreshold returns the report threshold, falling back to the default.
func (c AuthConfig) SuspiciousIPThreshold() int {
	if c.Session.SuspiciousIPThreshold <= 0 {
		return auth.DefaultSuspiciousIPThreshold
	}
	return c.Session.SuspiciousIPThreshold
}

// CookieOptions converts the cookie settings. Production deployments always
// mark the cookie Secure.
func (c AuthConfig) CookieOptions(production bool) auth.CookieOptions {
	name := strings.TrimSpace(c.Cookie.Name)
	if name == "" {
		name = auth.DefaultCookieName
	}
	return auth.CookieOptions{
		Name:   name,
		Domain: strings.TrimSpace(c.Cookie.Domain),
		Secure: production || c.Cookie.Secure,
	}
}

// CookieSecret decodes the configured secret (hex, base64 or raw).
func (c AuthConfig) CookieSecret() (string, error) {
	key, err := DecodeKey(c.Cookie.Secret)
	if err != nil {
		return "", err
	}
	return string(key), nil
}

// RatePolicies converts the configured windows into middleware policies.
func (c AuthConfig) RatePolicies() RatePolicies {
	return RatePolicies{
		Auth:          ratePolicy("auth", c.RateLimit.Auth),
		Email:         ratePolicy("email", c.RateLimit.Email),
		PasswordReset: ratePolicy("password_reset", c.RateLimit.PasswordReset),
	}
}

// RatePolicies groups the policies applied to the auth routes.
type RatePolicies struct {
	Auth          middleware.RatePolicy
	Email         middleware.RatePolicy
	PasswordReset middleware.RatePolicy
}

func ratePolicy(name string, window RateWindow) middleware.RatePolicy {
	return middleware.RatePolicy{
		Name:   name,
		Limit:  window.Limit,
		Window: window.Window,
	}
}

package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gozman/bookshelf/internal/auth"
)

const cookieSecretBytes = 32

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// A generated cookie secret changes on every restart, which signs out every cookie session.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if cfg.Auth.Transport() == auth.TransportCookie && strings.TrimSpace(cfg.Auth.Cookie.Secret) == "" {
		secret, err := generateHexKey(cookieSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		cfg.Auth.Cookie.Secret = secret
		generated["auth.cookie.secret"] = true
	}

	return generated, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	switch c.Auth.Transport() {
	case auth.TransportCookie:
		length, err := KeyByteLength(c.Auth.Cookie.Secret)
		if err != nil {
			return err
		}
		if length < auth.MinCookieSecretLength {
			return fmt.Errorf("auth.cookie.secret must decode to at least %d bytes, got %d", auth.MinCookieSecretLength, length)
		}
	case auth.TransportHeader, "bearer":
	default:
		return fmt.Errorf("auth.session.transport %q is not supported", c.Auth.Session.Transport)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

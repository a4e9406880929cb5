package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/logger"
)

// Transport names accepted by NewCarrier.
const (
	TransportCookie = "cookie"
	TransportHeader = "header"
)

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "auth_session"

// Carrier moves the session token between client and server. A deployment
// uses exactly one implementation.
type Carrier interface {
	// Extract returns the presented token, or false when none was presented
	// or the credential could not be trusted.
	Extract(r *http.Request) (string, bool)
	// Issue hands the session token to the client.
	Issue(w http.ResponseWriter, session *models.Session)
	// Clear removes any client-side credential.
	Clear(w http.ResponseWriter)
	// Name identifies the transport for logging and response shaping.
	Name() string
}

// NewCarrier selects the carrier for transport. The cookie transport needs a signer.
func NewCarrier(transport string, signer *CookieSigner, opts CookieOptions) (Carrier, error) {
	switch strings.ToLower(strings.TrimSpace(transport)) {
	case "", TransportCookie:
		if signer == nil {
			return nil, fmt.Errorf("carrier: cookie transport requires a signer")
		}
		return NewCookieCarrier(signer, opts), nil
	case TransportHeader, "bearer":
		return NewBearerCarrier(), nil
	default:
		return nil, fmt.Errorf("carrier: unsupported transport %q", transport)
	}
}

// CookieOptions configure CookieCarrier.
type CookieOptions struct {
	Name   string
	Domain string
	Secure bool
}

// CookieCarrier stores the token in a signed, HttpOnly, SameSite=Strict cookie.
type CookieCarrier struct {
	signer *CookieSigner
	opts   CookieOptions
}

// NewCookieCarrier builds a cookie carrier.
func NewCookieCarrier(signer *CookieSigner, opts CookieOptions) *CookieCarrier {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = DefaultCookieName
	}
	return &CookieCarrier{signer: signer, opts: opts}
}

func (c *CookieCarrier) Name() string { return TransportCookie }

func (c *CookieCarrier) Extract(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.opts.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	token, err := c.signer.Verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return token, true
}

func (c *CookieCarrier) Issue(w http.ResponseWriter, session *models.Session) {
	if session == nil {
		return
	}
	signed, err := c.signer.Sign(session.Token)
	if err != nil {
		logger.WithModule("auth").Error("failed to sign session cookie",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.opts.Name,
		Value:    signed,
		Path:     "/",
		Domain:   c.opts.Domain,
		Expires:  session.ExpiresAt.UTC(),
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *CookieCarrier) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.opts.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.opts.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// BearerCarrier reads the token from an "Authorization: Bearer" header. The
// token is returned in the login response body, so Issue and Clear do nothing.
type BearerCarrier struct{}

// NewBearerCarrier returns the header transport.
func NewBearerCarrier() *BearerCarrier { return &BearerCarrier{} }

func (BearerCarrier) Name() string { return TransportHeader }

func (BearerCarrier) Extract(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func (BearerCarrier) Issue(http.ResponseWriter, *models.Session) {}

func (BearerCarrier) Clear(http.ResponseWriter) {}

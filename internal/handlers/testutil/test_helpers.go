package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/api"
	"github.com/gozman/bookshelf/internal/app"
	iauth "github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/auth/providers"
	sharedtestutil "github.com/gozman/bookshelf/internal/database/testutil"
	"github.com/gozman/bookshelf/internal/middleware"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/internal/services"
	"github.com/gozman/bookshelf/pkg/mail"
	"github.com/gozman/bookshelf/pkg/response"
)

// DefaultRemoteAddr is the client address httptest assigns to requests.
const DefaultRemoteAddr = "192.0.2.1:1234"

const testCookieSecret = "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T         *testing.T
	DB        *gorm.DB
	Router    *gin.Engine
	Config    *app.Config
	Sessions  *iauth.SessionService
	Accounts  *services.AccountService
	Carrier   iauth.Carrier
	Mailer    *RecordingMailer
	Clock     *Clock
	RateStore *middleware.MemoryRateStore

	cookies map[string]*http.Cookie
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithHeaderTransport switches the deployment to bearer tokens.
func WithHeaderTransport() EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.Session.Transport = iauth.TransportHeader
	}
}

// WithRateLimits replaces the generous test limits.
func WithRateLimits(limits app.RateLimitSettings) EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.RateLimit = limits
	}
}

// WithSuspiciousThreshold sets the default suspicious address threshold.
func WithSuspiciousThreshold(threshold int) EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.Session.SuspiciousIPThreshold = threshold
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{current: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}

	generous := app.RateWindow{Limit: 1000, Window: time.Minute}
	cfg := &app.Config{
		Server: app.ServerConfig{Environment: "test"},
		Auth: app.AuthConfig{
			Session: app.SessionSettings{
				TTL:                   iauth.DefaultSessionTTL,
				TokenBytes:            iauth.DefaultTokenBytes,
				Transport:             iauth.TransportCookie,
				SuspiciousIPThreshold: iauth.DefaultSuspiciousIPThreshold,
			},
			Cookie: app.CookieSettings{
				Name:   iauth.DefaultCookieName,
				Secret: testCookieSecret,
			},
			Tokens: app.TokenSettings{
				VerificationTTL: 24 * time.Hour,
				ResetTTL:        time.Hour,
			},
			RateLimit: app.RateLimitSettings{Auth: generous, Email: generous, PasswordReset: generous},
		},
		Email: app.EmailConfig{
			Driver:  app.EmailDriverLog,
			BaseURL: "https://books.test",
			AppName: "Bookshelf",
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Clock = clock.Now
	sessions, err := iauth.NewSessionService(db, sessionCfg)
	require.NoError(t, err)

	provider, err := providers.NewLocalProvider(db)
	require.NoError(t, err)

	audit, err := services.NewAuditService(db, services.WithAuditClock(clock.Now))
	require.NoError(t, err)

	mailer := &RecordingMailer{}
	accounts, err := services.NewAccountService(db, provider, sessions, mailer,
		services.WithBaseURL(cfg.Email.BaseURL),
		services.WithAppName(cfg.Email.AppName),
		services.WithVerificationExpiry(cfg.Auth.Tokens.VerificationTTL),
		services.WithResetExpiry(cfg.Auth.Tokens.ResetTTL),
		services.WithAccountClock(clock.Now),
		services.WithAuditService(audit),
	)
	require.NoError(t, err)

	secret, err := cfg.Auth.CookieSecret()
	require.NoError(t, err)
	signer, err := iauth.NewCookieSigner(secret)
	require.NoError(t, err)
	carrier, err := iauth.NewCarrier(cfg.Auth.Transport(), signer, cfg.Auth.CookieOptions(cfg.Server.IsProduction()))
	require.NoError(t, err)

	rateStore := middleware.NewMemoryRateStore(clock.Now)

	router, err := api.NewRouter(api.Deps{
		DB:        db,
		Config:    cfg,
		Sessions:  sessions,
		Accounts:  accounts,
		Carrier:   carrier,
		RateStore: rateStore,
	})
	require.NoError(t, err)

	return &Env{
		T:         t,
		DB:        db,
		Router:    router,
		Config:    cfg,
		Sessions:  sessions,
		Accounts:  accounts,
		Carrier:   carrier,
		Mailer:    mailer,
		Clock:     clock,
		RateStore: rateStore,
		cookies:   map[string]*http.Cookie{},
	}
}

// CreateVerifiedUser inserts a user whose email is already confirmed.
func (e *Env) CreateVerifiedUser(email, password string) *models.User {
	e.T.Helper()

	provider, err := providers.NewLocalProvider(e.DB)
	require.NoError(e.T, err)

	user, err := provider.Register(context.Background(), providers.RegisterInput{
		Email:    email,
		Password: password,
		Name:     "Reader",
	})
	require.NoError(e.T, err)
	require.NoError(e.T, e.DB.Model(user).Update("email_verified", true).Error)
	user.EmailVerified = true
	return user
}

// UserPayload captures the user fields returned from auth endpoints.
type UserPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionPayload captures the session fields returned from auth endpoints.
type SessionPayload struct {
	Expires time.Time `json:"expires"`
}

// LoginResult bundles the JSON response from POST /api/v1/auth/login.
type LoginResult struct {
	Message string         `json:"message"`
	User    UserPayload    `json:"user"`
	Session SessionPayload `json:"session"`
	Token   string         `json:"token"`
}

// Login authenticates and returns the decoded payload. With the cookie
// transport the issued cookie lands in the Env's jar.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.Equal(e.T, strings.ToLower(email), result.User.Email)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router. Cookies held in
// the Env's jar are attached and a non-empty token is sent as a bearer header.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestFrom(DefaultRemoteAddr, method, path, body, token)
}

// RequestFrom is Request with an explicit client address.
func (e *Env) RequestFrom(remoteAddr, method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf.Write(data)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = remoteAddr
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, cookie := range e.cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCookies(w.Result())
	return w
}

// SessionCookie returns the session cookie currently held, if any.
func (e *Env) SessionCookie() *http.Cookie {
	return e.cookies[e.Config.Auth.CookieOptions(false).Name]
}

// SetCookie places cookie in the jar, replacing one with the same name.
func (e *Env) SetCookie(cookie *http.Cookie) {
	e.cookies[cookie.Name] = cookie
}

// ClearCookies empties the jar.
func (e *Env) ClearCookies() {
	e.cookies = map[string]*http.Cookie{}
}

func (e *Env) captureCookies(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(e.cookies, c.Name)
			continue
		}
		e.cookies[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
}

// RecordingMailer keeps every message in memory.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *RecordingMailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

var linkTokenPattern = regexp.MustCompile(`token=([0-9a-f]+)`)

// LastToken extracts the one-time token from the newest message with tag.
func (m *RecordingMailer) LastToken(t *testing.T, tag string) string {
	t.Helper()

	messages := m.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Tag != tag {
			continue
		}
		match := linkTokenPattern.FindStringSubmatch(messages[i].Body)
		require.Len(t, match, 2, messages[i].Body)
		return match[1]
	}
	t.Fatalf("no %q message recorded", tag)
	return ""
}

// CountTagged reports how many messages carry tag.
func (m *RecordingMailer) CountTagged(tag string) int {
	count := 0
	for _, msg := range m.Messages() {
		if msg.Tag == tag {
			count++
		}
	}
	return count
}

// Clock is a manually advanced UTC clock.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

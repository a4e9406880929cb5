package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/logger"
)

func newTestCookieCarrier(t *testing.T, secure bool) *CookieCarrier {
	t.Helper()
	signer, err := NewCookieSigner(testCookieSecret)
	require.NoError(t, err)
	return NewCookieCarrier(signer, CookieOptions{Secure: secure})
}

func TestCookieCarrierIssueSetsAttributes(t *testing.T) {
	carrier := newTestCookieCarrier(t, true)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	carrier.Issue(rec, &models.Session{Token: "tok", ExpiresAt: expires})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	require.Equal(t, DefaultCookieName, cookie.Name)
	require.Equal(t, "/", cookie.Path)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.True(t, cookie.Expires.Equal(expires))
	require.NotEqual(t, "tok", cookie.Value, "cookie value must be signed")
}

func TestCookieCarrierIssueLogsSigningFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(nil) })

	signer := &CookieSigner{key: []byte(testCookieSecret), method: jwt.SigningMethodRS256}
	carrier := NewCookieCarrier(signer, CookieOptions{})

	rec := httptest.NewRecorder()
	carrier.Issue(rec, &models.Session{ID: "sess-1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	require.Empty(t, rec.Result().Cookies())
	entries := logs.FilterMessage("failed to sign session cookie").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "sess-1", entries[0].ContextMap()["session_id"])
}

func TestCookieCarrierExtractRoundTrip(t *testing.T) {
	carrier := newTestCookieCarrier(t, false)

	rec := httptest.NewRecorder()
	carrier.Issue(rec, &models.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	token, ok := carrier.Extract(req)
	require.True(t, ok)
	require.Equal(t, "tok", token)
}

func TestCookieCarrierExtractRejectsUnsignedValue(t *testing.T) {
	carrier := newTestCookieCarrier(t, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "tok"})

	_, ok := carrier.Extract(req)
	require.False(t, ok)

	_, ok = carrier.Extract(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestCookieCarrierClearExpiresCookie(t *testing.T) {
	carrier := newTestCookieCarrier(t, false)

	rec := httptest.NewRecorder()
	carrier.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "", cookies[0].Value)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestBearerCarrierExtract(t *testing.T) {
	carrier := NewBearerCarrier()

	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		token, ok := carrier.Extract(req)
		require.Equal(t, tc.ok, ok, tc.header)
		require.Equal(t, tc.token, token, tc.header)
	}

	rec := httptest.NewRecorder()
	carrier.Issue(rec, &models.Session{Token: "tok"})
	carrier.Clear(rec)
	require.Empty(t, rec.Result().Cookies())
}

func TestNewCarrierSelectsTransport(t *testing.T) {
	signer, err := NewCookieSigner(testCookieSecret)
	require.NoError(t, err)

	c, err := NewCarrier("cookie", signer, CookieOptions{})
	require.NoError(t, err)
	require.Equal(t, TransportCookie, c.Name())

	c, err = NewCarrier("header", nil, CookieOptions{})
	require.NoError(t, err)
	require.Equal(t, TransportHeader, c.Name())

	_, err = NewCarrier("cookie", nil, CookieOptions{})
	require.Error(t, err)

	_, err = NewCarrier("carrier-pigeon", signer, CookieOptions{})
	require.Error(t, err)
}

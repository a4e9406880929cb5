package services

import (
	"context"
	"encoding/json"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/metrics"
)

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newAccountEnv(t)

	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "missing@example.com"))
	require.Empty(t, env.mailer.Messages())
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	env := newAccountEnv(t)
	user := env.registerVerified(t, "reset@example.com", "old-password")

	first, err := env.svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "old-password"})
	require.NoError(t, err)
	second, err := env.svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "old-password"})
	require.NoError(t, err)

	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "reset@example.com"))
	message := env.mailer.Messages()[0]
	require.Contains(t, message.Body, "https://books.test/reset-password?token=")
	token := env.mailer.lastToken(t)

	active := promtestutil.ToFloat64(metrics.ActiveSessions)
	reset, err := env.svc.ResetPassword(context.Background(), token, "new-password", ClientInfo{IPAddress: "203.0.113.5"})
	require.NoError(t, err)
	require.Equal(t, user.ID, reset.ID)
	require.Equal(t, active-2, promtestutil.ToFloat64(metrics.ActiveSessions))

	for _, session := range []*models.Session{first, second} {
		_, err := env.sessions.Validate(context.Background(), session.Token)
		require.ErrorIs(t, err, auth.ErrSessionNotFound)
	}

	_, err = env.svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "old-password"})
	require.Error(t, err)
	_, err = env.svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "new-password"})
	require.NoError(t, err)

	_, err = env.svc.ResetPassword(context.Background(), token, "third-password", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenInvalid)

	logs, err := env.audit.List(context.Background(), AuditFilters{Action: AuditActionPasswordReset}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, json.Number("2"), logs[0].Metadata["sessions_revoked"])
}

func TestResetPasswordExpiredToken(t *testing.T) {
	env := newAccountEnv(t)
	env.registerVerified(t, "expired@example.com", "old-password")

	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "expired@example.com"))
	token := env.mailer.lastToken(t)

	env.clock.Advance(defaultResetExpiry)

	_, err := env.svc.ResetPassword(context.Background(), token, "new-password", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRequestPasswordResetReplacesPendingToken(t *testing.T) {
	env := newAccountEnv(t)
	env.registerVerified(t, "twice@example.com", "old-password")

	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "twice@example.com"))
	stale := env.mailer.lastToken(t)
	require.NoError(t, env.svc.RequestPasswordReset(context.Background(), "twice@example.com"))

	var count int64
	require.NoError(t, env.db.Model(&models.PasswordResetToken{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	_, err := env.svc.ResetPassword(context.Background(), stale, "new-password", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

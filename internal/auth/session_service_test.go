package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/database/testutil"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
	"github.com/gozman/bookshelf/pkg/metrics"
)

func TestCreateSessionGeneratesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "create")

	session, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)

	require.Len(t, session.Token, 64)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)
	require.True(t, session.ExpiresAt.Equal(clock.Now().Add(2*time.Hour)))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, session.Token, reloaded.Token)
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestCreateSessionKeepsUserAgentValidUTF8(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "agent")

	cases := map[string]struct {
		agent string
		want  string
	}{
		"multibyte at limit": {
			agent: strings.Repeat("a", 511) + "é" + "tail",
			want:  strings.Repeat("a", 511),
		},
		"invalid bytes": {
			agent: "Mozilla\xff\xfe/5.0",
			want:  "Mozilla/5.0",
		},
		"within limit": {
			agent: "Büchereule/1.0",
			want:  "Büchereule/1.0",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			session, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{UserAgent: tc.agent})
			require.NoError(t, err)

			var reloaded models.Session
			require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
			require.True(t, utf8.ValidString(reloaded.UserAgent))
			require.LessOrEqual(t, len(reloaded.UserAgent), maxUserAgentBytes)
			require.Equal(t, tc.want, reloaded.UserAgent)
		})
	}
}

func TestCreateSessionHonoursExplicitExpiry(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "explicit")

	expires := clock.Now().Add(30 * 24 * time.Hour)
	session, err := svc.Create(context.Background(), user, expires, SessionMetadata{})
	require.NoError(t, err)
	require.True(t, session.ExpiresAt.Equal(expires))
}

func TestCreateSessionTokensAreUnique(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "unique")

	first, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
	require.NoError(t, err)

	require.NotEqual(t, first.Token, second.Token)
	require.Equal(t, int64(2), countSessions(t, db, user.ID))
}

func TestCreateSessionRequiresUser(t *testing.T) {
	_, svc, _ := setupSessionService(t)

	_, err := svc.Create(context.Background(), nil, time.Time{}, SessionMetadata{})
	require.Error(t, err)
}

func TestCreateSessionWrapsPersistenceErrors(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "closed")

	closeDB(t, db)

	_, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
	require.ErrorIs(t, err, ErrPersistence)
}

func TestValidateTouchesLastUsed(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "touch")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	validated, err := svc.Validate(context.Background(), session.Token)
	require.NoError(t, err)
	require.Equal(t, session.ID, validated.ID)
	require.NotNil(t, validated.User)
	require.Equal(t, user.Email, validated.User.Email)
	require.True(t, validated.LastUsedAt.Equal(clock.Now()))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
	require.False(t, reloaded.LastUsedAt.Before(session.LastUsedAt))
}

func TestValidateNeverMovesLastUsedBackwards(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "monotonic")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(-time.Minute)

	validated, err := svc.Validate(context.Background(), session.Token)
	require.NoError(t, err)
	require.False(t, validated.LastUsedAt.Before(session.LastUsedAt))
}

func TestValidateExpiredSessionDeletesRecord(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "expired")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), session.Token)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = svc.Validate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Zero(t, countSessions(t, db, user.ID))

	_, err = svc.Validate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidateTreatsExpiryEqualToNowAsExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "boundary")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Minute), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = svc.Validate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Zero(t, countSessions(t, db, user.ID))
}

func TestValidateUnknownTokenDoesNotMutate(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "unknown")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	for _, token := range []string{"", "   ", "deadbeef", session.Token + "x"} {
		_, err := svc.Validate(context.Background(), token)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.LastUsedAt.Equal(session.LastUsedAt))
	require.Equal(t, int64(1), countSessions(t, db, user.ID))
}

func TestValidateReportsPersistenceFailure(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	closeDB(t, db)

	_, err := svc.Validate(context.Background(), "anything")
	require.ErrorIs(t, err, ErrPersistence)
	require.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestValidateConcurrentCallers(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "concurrent")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Validate(context.Background(), session.Token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestCurrentDoesNotMutate(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "current")

	session, err := svc.Create(context.Background(), user, clock.Now().Add(time.Hour), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	current, err := svc.Current(context.Background(), session.Token)
	require.NoError(t, err)
	require.Equal(t, session.ID, current.ID)
	require.NotNil(t, current.User)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.LastUsedAt.Equal(session.LastUsedAt))

	clock.Advance(2 * time.Hour)
	_, err = svc.Current(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, int64(1), countSessions(t, db, user.ID), "current must not delete expired sessions")
}

func TestDeleteByTokenIsIdempotent(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "logout")

	session, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByToken(context.Background(), session.Token))
	require.NoError(t, svc.DeleteByToken(context.Background(), session.Token))
	require.NoError(t, svc.DeleteByToken(context.Background(), "never-issued"))
	require.NoError(t, svc.DeleteByToken(context.Background(), ""))

	_, err = svc.Validate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteAllForUser(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "reset")
	other := createTestUser(t, db, "bystander")

	var tokens []string
	for i := 0; i < 3; i++ {
		session, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
		require.NoError(t, err)
		tokens = append(tokens, session.Token)
	}
	kept, err := svc.Create(context.Background(), other, time.Time{}, SessionMetadata{})
	require.NoError(t, err)

	removed, err := svc.DeleteAllForUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)

	for _, token := range tokens {
		_, err := svc.Validate(context.Background(), token)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}

	_, err = svc.Validate(context.Background(), kept.Token)
	require.NoError(t, err)
}

func TestDeleteAllForUserInsideTransaction(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "rollback")

	_, err := svc.Create(context.Background(), user, time.Time{}, SessionMetadata{})
	require.NoError(t, err)

	active := promtestutil.ToFloat64(metrics.ActiveSessions)
	err = db.Transaction(func(tx *gorm.DB) error {
		removed, err := svc.WithDB(tx).DeleteAllForUser(context.Background(), user.ID)
		require.NoError(t, err)
		require.EqualValues(t, 1, removed)
		return gorm.ErrInvalidTransaction
	})
	require.ErrorIs(t, err, gorm.ErrInvalidTransaction)
	require.Equal(t, int64(1), countSessions(t, db, user.ID), "rollback must restore sessions")
	require.Equal(t, active, promtestutil.ToFloat64(metrics.ActiveSessions))
}

func TestSuspiciousIPs(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "suspicious")

	create := func(ip string, n int, expires time.Time) {
		for i := 0; i < n; i++ {
			_, err := svc.Create(context.Background(), user, expires, SessionMetadata{IPAddress: ip})
			require.NoError(t, err)
		}
	}

	live := clock.Now().Add(time.Hour)
	create("203.0.113.7", 6, live)
	create("198.51.100.1", 5, live)
	create("", 9, live)
	create("192.0.2.50", 7, clock.Now().Add(-time.Minute))

	rows, err := svc.SuspiciousIPs(context.Background(), user.ID, DefaultSuspiciousIPThreshold)
	require.NoError(t, err)
	require.Equal(t, []IPCount{{IPAddress: "203.0.113.7", Count: 6}}, rows)

	rows, err = svc.SuspiciousIPs(context.Background(), user.ID, 4)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "203.0.113.7", rows[0].IPAddress)
	require.Equal(t, "198.51.100.1", rows[1].IPAddress)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "sweep")

	for i := 0; i < 4; i++ {
		_, err := svc.Create(context.Background(), user, clock.Now().Add(time.Duration(i+1)*time.Minute), SessionMetadata{})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), user, clock.Now().Add(time.Duration(i+1)*time.Hour), SessionMetadata{})
		require.NoError(t, err)
	}
	// Expiring exactly now is not yet swept.
	_, err := svc.Create(context.Background(), user, clock.Now().Add(10*time.Minute), SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	removed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, removed)
	require.Equal(t, int64(4), countSessions(t, db, user.ID))

	removed, err = svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestSweepReportsPersistenceFailure(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	closeDB(t, db)

	_, err := svc.Sweep(context.Background())
	require.ErrorIs(t, err, ErrPersistence)
}

func TestNewSessionServiceDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := NewSessionService(db, SessionConfig{TokenBytes: 8})
	require.NoError(t, err)
	require.Equal(t, DefaultSessionTTL, svc.TTL())
	require.Equal(t, DefaultTokenBytes, svc.tokenLen, "token entropy is never below 256 bits")

	_, err = NewSessionService(nil, SessionConfig{})
	require.Error(t, err)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	sessionService, err := NewSessionService(db, SessionConfig{
		TTL:   2 * time.Hour,
		Clock: clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password123")
	require.NoError(t, err)

	user := &models.User{
		Email:         name + "@example.com",
		PasswordHash:  hashed,
		Name:          name,
		EmailVerified: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func countSessions(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gozman/bookshelf/internal/database/testutil"
	"github.com/gozman/bookshelf/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)}
	svc, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	userID := "user-1"
	require.NoError(t, svc.Log(context.Background(), AuditEntry{
		UserID:    &userID,
		Email:     "Reader@Example.com",
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		IPAddress: "198.51.100.4",
		Metadata:  map[string]any{"transport": "cookie"},
	}))
	clock.Advance(time.Minute)
	require.NoError(t, svc.Log(context.Background(), AuditEntry{
		Email:  "ghost@example.com",
		Action: AuditActionLogin,
		Result: AuditResultFailure,
	}))

	logs, err := svc.List(context.Background(), AuditFilters{}, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, AuditResultFailure, logs[0].Result)
	require.Nil(t, logs[0].UserID)

	logs, err = svc.List(context.Background(), AuditFilters{UserID: userID}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "reader@example.com", logs[0].Email)
	require.Equal(t, "cookie", logs[0].Metadata["transport"])

	since := clock.Now()
	logs, err = svc.List(context.Background(), AuditFilters{Since: &since}, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestAuditServiceRequiresActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: AuditActionLogin}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)}
	svc, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: AuditActionLogout, Result: AuditResultSuccess}))
	clock.Advance(45 * 24 * time.Hour)
	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: AuditActionLogout, Result: AuditResultSuccess}))

	removed, err := svc.CleanupOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}

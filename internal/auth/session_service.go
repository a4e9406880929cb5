package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
	"github.com/gozman/bookshelf/pkg/metrics"
)

const (
	// DefaultSessionTTL is the lifetime of a freshly issued session.
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultTokenBytes yields 256 bits of entropy, hex encoded to 64 characters.
	DefaultTokenBytes = 32
	// DefaultSuspiciousIPThreshold flags an address seen on more than five live sessions.
	DefaultSuspiciousIPThreshold = 5
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL        time.Duration
	TokenBytes int
	Clock      func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// IPCount is one row of the suspicious address report.
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int64  `json:"count"`
}

var (
	// ErrSessionNotFound covers both unknown and expired tokens. Callers
	// cannot and should not tell the two apart.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrPersistence wraps any failure of the underlying store.
	ErrPersistence = errors.New("session: persistence failure")
)

// SessionService owns the session lifecycle: issue, validate, touch, delete and sweep.
type SessionService struct {
	db       *gorm.DB
	ttl      time.Duration
	tokenLen int
	now      func() time.Time
	// inTx suppresses gauge updates; the transaction owner applies them after commit.
	inTx bool
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	length := cfg.TokenBytes
	if length < DefaultTokenBytes {
		length = DefaultTokenBytes
	}

	clock := func() time.Time { return time.Now().UTC() }
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		ttl:      ttl,
		tokenLen: length,
		now:      clock,
	}, nil
}

// WithDB returns a copy of the service bound to a transaction. The copy does
// not touch the active-sessions gauge, so the caller must report the removed
// or created rows once the transaction commits.
func (s *SessionService) WithDB(tx *gorm.DB) *SessionService {
	clone := *s
	clone.db = tx
	clone.inTx = true
	return &clone
}

// TTL reports the default session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Create issues a new session for user. A zero expiresAt means now plus the configured TTL.
func (s *SessionService) Create(ctx context.Context, user *models.User, expiresAt time.Time, meta SessionMetadata) (*models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return nil, errors.New("session service: user is required")
	}

	token, err := crypto.GenerateHexToken(s.tokenLen)
	if err != nil {
		return nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ttl)
	}

	session := &models.Session{
		Token:      token,
		UserID:     user.ID,
		ExpiresAt:  expiresAt,
		LastUsedAt: now,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  truncate(strings.TrimSpace(meta.UserAgent), maxUserAgentBytes),
		CreatedAt:  now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session service: create session: %w: %w", ErrPersistence, err)
	}

	s.adjustActive(1)
	session.User = user
	return session, nil
}

// DeleteByToken removes the session holding token. Unknown tokens are not an error.
func (s *SessionService) DeleteByToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	result := s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: delete session: %w: %w", ErrPersistence, result.Error)
	}
	s.adjustActive(-result.RowsAffected)
	return nil
}

// DeleteAllForUser removes every session owned by userID and reports how many were removed.
func (s *SessionService) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.New("session service: user id is required")
	}

	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: delete user sessions: %w: %w", ErrPersistence, result.Error)
	}
	s.adjustActive(-result.RowsAffected)
	return result.RowsAffected, nil
}

// SuspiciousIPs lists addresses that appear on more than threshold of the
// user's live sessions. It only reports; nothing is enforced.
func (s *SessionService) SuspiciousIPs(ctx context.Context, userID string, threshold int) ([]IPCount, error) {
	if threshold < 0 {
		threshold = DefaultSuspiciousIPThreshold
	}

	var rows []IPCount
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Select("ip_address, COUNT(*) AS count").
		Where("user_id = ? AND ip_address <> '' AND expires_at > ?", userID, s.now()).
		Group("ip_address").
		Having("COUNT(*) > ?", threshold).
		Order("count DESC, ip_address").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("session service: suspicious ips: %w: %w", ErrPersistence, err)
	}
	return rows, nil
}

// Validate resolves token to a live session and touches its last-used time.
// Expired sessions are deleted on access. Absent and expired both yield
// ErrSessionNotFound.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if session.IsExpired(now) {
		if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", session.ID).Error; err != nil {
			return nil, fmt.Errorf("session service: delete expired session: %w: %w", ErrPersistence, err)
		}
		s.adjustActive(-1)
		return nil, ErrSessionNotFound
	}

	touched := now
	if touched.Before(session.LastUsedAt) {
		touched = session.LastUsedAt
	}

	// The expiry predicate makes the touch fail for a session that expired
	// or was deleted after the read above.
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND expires_at > ?", session.ID, now).
		Update("last_used_at", touched)
	if result.Error != nil {
		return nil, fmt.Errorf("session service: touch session: %w: %w", ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSessionNotFound
	}

	session.LastUsedAt = touched
	return session, nil
}

// Current resolves token like Validate but never writes.
func (s *SessionService) Current(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Sweep deletes every session whose expiry has passed and returns the count.
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: sweep: %w: %w", ErrPersistence, result.Error)
	}
	s.adjustActive(-result.RowsAffected)
	return result.RowsAffected, nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}

	var session models.Session
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("token = ?", token).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w: %w", ErrPersistence, err)
	}
	if session.User == nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *SessionService) adjustActive(delta int64) {
	if s.inTx || delta == 0 {
		return
	}
	metrics.ActiveSessions.Add(float64(delta))
}

const maxUserAgentBytes = 512

// truncate drops invalid UTF-8 and cuts value to at most limit bytes
// without splitting a rune.
func truncate(value string, limit int) string {
	value = strings.ToValidUTF8(value, "")
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
	"github.com/gozman/bookshelf/pkg/mail"
	"github.com/gozman/bookshelf/pkg/metrics"
)

const resetPasswordPath = "/reset-password"

// RequestPasswordReset emails a single-use reset link. Unknown addresses
// succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.provider.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("account service: find user: %w", err)
	}

	token, err := crypto.GenerateHexToken(s.tokenBytes)
	if err != nil {
		return fmt.Errorf("account service: generate reset token: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: crypto.HashToken(token),
			ExpiresAt: s.now().Add(s.resetTTL),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("account service: store reset token: %w", err)
	}

	message := mail.Message{
		To:      []string{user.Email},
		Subject: fmt.Sprintf("Reset your %s password", s.appName),
		Body: fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password:\n%s\n\nThe link expires in %s and can be used once. If you did not ask for a reset, you can ignore this message.\n",
			greetingName(user), s.link(resetPasswordPath, token), humanDuration(s.resetTTL)),
		Tag: "password-reset",
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("account service: send reset email: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token. The hash update,
// token deletion and removal of every session of the user commit together.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string, client ClientInfo) (*models.User, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	var (
		user    models.User
		revoked int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reset models.PasswordResetToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? AND expires_at > ?", crypto.HashToken(token), s.now()).
			Take(&reset).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		if err := s.provider.WithDB(tx).SetPassword(ctx, reset.UserID, password); err != nil {
			return err
		}
		if err := tx.Delete(&models.PasswordResetToken{}, "id = ?", reset.ID).Error; err != nil {
			return err
		}
		revoked, err = s.sessions.WithDB(tx).DeleteAllForUser(ctx, reset.UserID)
		if err != nil {
			return err
		}
		return tx.Take(&user, "id = ?", reset.UserID).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("account service: reset password: %w", err)
	}
	metrics.ActiveSessions.Sub(float64(revoked))

	s.record(ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    AuditActionPasswordReset,
		Result:    AuditResultSuccess,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"sessions_revoked": revoked},
	})
	return &user, nil
}

// PurgeExpiredTokens deletes verification and reset tokens past their expiry.
func (s *AccountService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	verifications := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.EmailVerification{})
	if verifications.Error != nil {
		return 0, fmt.Errorf("account service: purge verification tokens: %w", verifications.Error)
	}
	resets := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.PasswordResetToken{})
	if resets.Error != nil {
		return verifications.RowsAffected, fmt.Errorf("account service: purge reset tokens: %w", resets.Error)
	}
	return verifications.RowsAffected + resets.RowsAffected, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour && d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return d.String()
	}
}

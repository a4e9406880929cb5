package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
	"github.com/gozman/bookshelf/pkg/mail"
)

const verifyEmailPath = "/api/v1/auth/verify-email"

// SendVerification replaces any pending verification token for user and emails a fresh link.
func (s *AccountService) SendVerification(ctx context.Context, user *models.User) error {
	ctx = ensureContext(ctx)
	if user == nil {
		return errors.New("account service: user is required")
	}

	token, err := crypto.GenerateHexToken(s.tokenBytes)
	if err != nil {
		return fmt.Errorf("account service: generate verification token: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.EmailVerification{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.EmailVerification{
			UserID:    user.ID,
			TokenHash: crypto.HashToken(token),
			ExpiresAt: s.now().Add(s.verificationTTL),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("account service: store verification token: %w", err)
	}

	link := s.link(verifyEmailPath, token)
	message := mail.Message{
		To:      []string{user.Email},
		Subject: fmt.Sprintf("Verify your %s account", s.appName),
		Body:    s.verificationBody(user, link),
		Tag:     "email-verification",
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("account service: send verification email: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks its owner verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var verification models.EmailVerification
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? AND expires_at > ?", crypto.HashToken(token), s.now()).
			Take(&verification).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", verification.UserID).
			Update("email_verified", true).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.EmailVerification{}, "id = ?", verification.ID).Error; err != nil {
			return err
		}
		return tx.Take(&user, "id = ?", verification.UserID).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("account service: verify email: %w", err)
	}

	s.record(ctx, AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: AuditActionVerifyEmail,
		Result: AuditResultSuccess,
	})
	return &user, nil
}

// ResendVerification emails a new link. Unknown addresses succeed silently
// so the endpoint cannot be used to discover accounts.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	user, err := s.provider.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("account service: find user: %w", err)
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}
	return s.SendVerification(ctx, user)
}

func (s *AccountService) verificationBody(user *models.User, link string) string {
	return fmt.Sprintf("Hi %s,\n\nPlease confirm your email address by visiting the link below:\n%s\n\nThe link expires in %s. If you did not create a %s account, you can ignore this message.\n",
		greetingName(user), link, humanDuration(s.verificationTTL), s.appName)
}

func greetingName(user *models.User) string {
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}
	return "there"
}

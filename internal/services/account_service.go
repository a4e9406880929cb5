package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/auth/providers"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/mail"
	"github.com/gozman/bookshelf/pkg/metrics"
)

const (
	defaultVerificationExpiry = 24 * time.Hour
	defaultResetExpiry        = time.Hour
	defaultOneTimeTokenBytes  = 32
	defaultAppName            = "Bookshelf"
)

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithBaseURL sets the public URL used to build links in outbound email.
func WithBaseURL(url string) AccountOption {
	return func(s *AccountService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithVerificationExpiry overrides the verification token lifetime.
func WithVerificationExpiry(d time.Duration) AccountOption {
	return func(s *AccountService) {
		if d > 0 {
			s.verificationTTL = d
		}
	}
}

// WithResetExpiry overrides the password reset token lifetime.
func WithResetExpiry(d time.Duration) AccountOption {
	return func(s *AccountService) {
		if d > 0 {
			s.resetTTL = d
		}
	}
}

// WithAccountClock injects a custom time source.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAuditService records account events in the audit log.
func WithAuditService(audit *AuditService) AccountOption {
	return func(s *AccountService) {
		s.audit = audit
	}
}

// WithAppName sets the product name used in email subjects.
func WithAppName(name string) AccountOption {
	return func(s *AccountService) {
		if strings.TrimSpace(name) != "" {
			s.appName = strings.TrimSpace(name)
		}
	}
}

// ClientInfo describes the caller of an account operation.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// LoginInput carries the credentials and the token the client presented, if any.
type LoginInput struct {
	Email          string
	Password       string
	PresentedToken string
	Client         ClientInfo
}

// AccountService implements registration, login, logout, email verification
// and password reset on top of the local provider and session service.
type AccountService struct {
	db       *gorm.DB
	provider *providers.LocalProvider
	sessions *auth.SessionService
	mailer   mail.Mailer
	audit    *AuditService

	baseURL         string
	appName         string
	verificationTTL time.Duration
	resetTTL        time.Duration
	tokenBytes      int
	now             func() time.Time
	log             *zap.Logger
}

// NewAccountService wires the account flows.
func NewAccountService(db *gorm.DB, provider *providers.LocalProvider, sessions *auth.SessionService, mailer mail.Mailer, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if provider == nil {
		return nil, errors.New("account service: provider is required")
	}
	if sessions == nil {
		return nil, errors.New("account service: session service is required")
	}
	if mailer == nil {
		return nil, errors.New("account service: mailer is required")
	}

	svc := &AccountService{
		db:              db,
		provider:        provider,
		sessions:        sessions,
		mailer:          mailer,
		appName:         defaultAppName,
		verificationTTL: defaultVerificationExpiry,
		resetTTL:        defaultResetExpiry,
		tokenBytes:      defaultOneTimeTokenBytes,
		now:             utcNow,
		log:             logger.WithModule("account"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an unverified user and emails a verification link. A
// delivery failure is logged; the user can ask for a new link later.
func (s *AccountService) Register(ctx context.Context, input providers.RegisterInput, client ClientInfo) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.provider.Register(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.SendVerification(ctx, user); err != nil {
		s.log.Warn("verification email not sent", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.record(ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    AuditActionRegister,
		Result:    AuditResultSuccess,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	return user, nil
}

// Login replaces the presented session (if any) with a fresh one for the
// authenticated user. Unverified accounts get a new verification email and
// no session.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*models.Session, error) {
	ctx = ensureContext(ctx)

	if err := s.sessions.DeleteByToken(ctx, input.PresentedToken); err != nil {
		return nil, fmt.Errorf("account service: drop presented session: %w", err)
	}

	user, err := s.provider.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		var unverified *providers.UnverifiedError
		switch {
		case errors.As(err, &unverified):
			metrics.AuthAttempts.WithLabelValues("unverified").Inc()
			if sendErr := s.SendVerification(ctx, unverified.User); sendErr != nil {
				s.log.Warn("verification email not sent", zap.String("user_id", unverified.User.ID), zap.Error(sendErr))
			}
		case errors.Is(err, providers.ErrInvalidCredentials):
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
		default:
			metrics.AuthAttempts.WithLabelValues("error").Inc()
		}
		s.record(ctx, AuditEntry{
			Email:     input.Email,
			Action:    AuditActionLogin,
			Result:    AuditResultFailure,
			IPAddress: input.Client.IPAddress,
			UserAgent: input.Client.UserAgent,
			Metadata:  map[string]any{"reason": loginFailureReason(err)},
		})
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user, time.Time{}, auth.SessionMetadata{
		IPAddress: input.Client.IPAddress,
		UserAgent: input.Client.UserAgent,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("account service: create session: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.record(ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    AuditActionLogin,
		Result:    AuditResultSuccess,
		IPAddress: input.Client.IPAddress,
		UserAgent: input.Client.UserAgent,
	})
	return session, nil
}

// Logout deletes the presented session. Logging out without a session is not an error.
func (s *AccountService) Logout(ctx context.Context, token string, client ClientInfo) error {
	ctx = ensureContext(ctx)

	current, err := s.sessions.Current(ctx, token)
	if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		s.log.Warn("logout lookup failed", zap.Error(err))
	}

	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("account service: logout: %w", err)
	}

	if current != nil {
		s.record(ctx, AuditEntry{
			UserID:    &current.UserID,
			Action:    AuditActionLogout,
			Result:    AuditResultSuccess,
			IPAddress: client.IPAddress,
			UserAgent: client.UserAgent,
		})
	}
	return nil
}

func (s *AccountService) record(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *AccountService) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", s.baseURL, path, token)
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, providers.ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, providers.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

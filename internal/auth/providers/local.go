package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailNotVerified is returned for a correct password on an unverified account.
	ErrEmailNotVerified = errors.New("auth: email not verified")
	// ErrUserExists is returned when registering an email that is already taken.
	ErrUserExists = errors.New("auth: user already exists")
)

// UnverifiedError carries the user whose password matched but whose email
// is not yet verified, so callers can re-send the verification mail.
type UnverifiedError struct {
	User *models.User
}

func (e *UnverifiedError) Error() string { return ErrEmailNotVerified.Error() }

func (e *UnverifiedError) Unwrap() error { return ErrEmailNotVerified }

// RegisterInput captures the details required to register a new local user.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LocalProvider implements email/password authentication against the users table.
type LocalProvider struct {
	db        *gorm.DB
	dummyHash string
}

// NewLocalProvider builds a provider.
func NewLocalProvider(db *gorm.DB) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("local provider: db is required")
	}

	// Compared against for unknown emails so both failure paths cost one bcrypt round.
	dummy, err := crypto.HashPassword("bookshelf-unknown-user")
	if err != nil {
		return nil, fmt.Errorf("local provider: prepare dummy hash: %w", err)
	}

	return &LocalProvider{db: db, dummyHash: dummy}, nil
}

// WithDB returns a copy of the provider bound to db, typically a transaction.
func (p *LocalProvider) WithDB(db *gorm.DB) *LocalProvider {
	clone := *p
	clone.db = db
	return &clone
}

// Authenticate verifies the supplied credentials and returns the associated user when successful.
func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := p.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		crypto.VerifyPassword(p.dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local provider: query user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, &UnverifiedError{User: &user}
	}

	return &user, nil
}

// FindByEmail returns the user registered under email.
func (p *LocalProvider) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := p.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a new local user with a hashed password. The account
// starts unverified.
func (p *LocalProvider) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := models.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, errors.New("local provider: email and password are required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("local provider: hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashed,
		Name:         strings.TrimSpace(input.Name),
	}

	if err := p.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("local provider: create user: %w", err)
	}

	return user, nil
}

// SetPassword replaces the stored hash for userID.
func (p *LocalProvider) SetPassword(ctx context.Context, userID, password string) error {
	if strings.TrimSpace(userID) == "" || password == "" {
		return errors.New("local provider: user id and password are required")
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("local provider: hash password: %w", err)
	}

	result := p.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", hashed)
	if result.Error != nil {
		return fmt.Errorf("local provider: update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

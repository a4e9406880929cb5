package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/database/testutil"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/pkg/crypto"
)

func TestAuthenticateSuccess(t *testing.T) {
	db, provider := setupProvider(t)
	user := createUser(t, db, "alice@example.com", "password123", true)

	result, err := provider.Authenticate(context.Background(), " Alice@Example.com ", "password123")
	require.NoError(t, err)
	require.Equal(t, user.ID, result.ID)
}

func TestAuthenticateInvalidPassword(t *testing.T) {
	db, provider := setupProvider(t)
	createUser(t, db, "bob@example.com", "password123", true)

	_, err := provider.Authenticate(context.Background(), "bob@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	_, provider := setupProvider(t)

	_, err := provider.Authenticate(context.Background(), "nobody@example.com", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = provider.Authenticate(context.Background(), "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnverified(t *testing.T) {
	db, provider := setupProvider(t)
	user := createUser(t, db, "carol@example.com", "password123", false)

	_, err := provider.Authenticate(context.Background(), "carol@example.com", "password123")
	require.ErrorIs(t, err, ErrEmailNotVerified)

	var unverified *UnverifiedError
	require.True(t, errors.As(err, &unverified))
	require.Equal(t, user.ID, unverified.User.ID)

	_, err = provider.Authenticate(context.Background(), "carol@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials, "wrong password must not reveal verification state")
}

func TestRegisterCreatesUnverifiedUser(t *testing.T) {
	db, provider := setupProvider(t)

	user, err := provider.Register(context.Background(), RegisterInput{
		Email:    " New@Example.com",
		Password: "password123",
		Name:     " New Reader ",
	})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", user.Email)
	require.Equal(t, "New Reader", user.Name)
	require.False(t, user.EmailVerified)

	var stored models.User
	require.NoError(t, db.Take(&stored, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(stored.PasswordHash, "password123"))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db, provider := setupProvider(t)
	createUser(t, db, "dupe@example.com", "password123", true)

	_, err := provider.Register(context.Background(), RegisterInput{
		Email:    "DUPE@example.com",
		Password: "password123",
	})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestSetPassword(t *testing.T) {
	db, provider := setupProvider(t)
	user := createUser(t, db, "dave@example.com", "password123", true)

	require.NoError(t, provider.SetPassword(context.Background(), user.ID, "new-password-1"))

	_, err := provider.Authenticate(context.Background(), "dave@example.com", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = provider.Authenticate(context.Background(), "dave@example.com", "new-password-1")
	require.NoError(t, err)

	err = provider.SetPassword(context.Background(), "missing", "new-password-1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindByEmail(t *testing.T) {
	db, provider := setupProvider(t)
	user := createUser(t, db, "erin@example.com", "password123", true)

	found, err := provider.FindByEmail(context.Background(), "ERIN@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)

	_, err = provider.FindByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func setupProvider(t *testing.T) (*gorm.DB, *LocalProvider) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider, err := NewLocalProvider(db)
	require.NoError(t, err)
	return db, provider
}

func createUser(t *testing.T, db *gorm.DB, email, password string, verified bool) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:         email,
		PasswordHash:  hashed,
		EmailVerified: verified,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/auth/providers"
	"github.com/gozman/bookshelf/internal/services"
	apperrors "github.com/gozman/bookshelf/pkg/errors"
	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/response"
)

const (
	msgRegistered         = "User created successfully. Please check your email to verify your account."
	msgEmailVerified      = "Email verified successfully."
	msgVerificationSent   = "If your email exists, a verification link has been sent."
	msgAlreadyVerified    = "This email is already verified."
	msgEmailNotVerified   = "Your email is not verified. A new verification email has been sent."
	msgLoginSuccessful    = "Login successful."
	msgResetSent          = "If your email exists, a password reset link has been sent."
	msgResetInvalid       = "Invalid or expired reset token."
	msgResetSuccessful    = "Password reset successful. Please login with your new password."
	msgVerificationNeeded = "Verification token is required."
	msgVerificationBad    = "Invalid or expired verification token."
	msgUserExists         = "User with this email already exists."
	msgLoggedOut          = "Logged out successfully."
)

// AuthHandler serves the account endpoints under /auth.
type AuthHandler struct {
	accounts *services.AccountService
	carrier  iauth.Carrier
}

func NewAuthHandler(accounts *services.AccountService, carrier iauth.Carrier) *AuthHandler {
	return &AuthHandler{accounts: accounts, carrier: carrier}
}

type registerRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Name            string `json:"name" validate:"omitempty,max=120"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type sessionPayload struct {
	Expires time.Time `json:"expires"`
}

// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.accounts.Register(requestContext(c), providers.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, clientInfo(c))
	if err != nil {
		if errors.Is(err, providers.ErrUserExists) {
			response.Error(c, apperrors.ErrUserExists.WithMessage(msgUserExists))
			return
		}
		internalError(c, "register", err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message": msgRegistered,
		"user":    toUserPayload(user),
	})
}

// GET /api/v1/auth/verify-email?token=
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, apperrors.ErrInvalidToken.WithMessage(msgVerificationNeeded))
		return
	}

	if _, err := h.accounts.VerifyEmail(requestContext(c), token); err != nil {
		if errors.Is(err, services.ErrTokenInvalid) {
			response.Error(c, apperrors.ErrInvalidToken.WithMessage(msgVerificationBad))
			return
		}
		internalError(c, "verify email", err)
		return
	}

	response.Message(c, http.StatusOK, msgEmailVerified)
}

// POST /api/v1/auth/resend-verification
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ResendVerification(requestContext(c), req.Email); err != nil {
		if errors.Is(err, services.ErrAlreadyVerified) {
			response.Error(c, apperrors.ErrAlreadyVerified.WithMessage(msgAlreadyVerified))
			return
		}
		internalError(c, "resend verification", err)
		return
	}

	response.Message(c, http.StatusOK, msgVerificationSent)
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	presented, ok := h.carrier.Extract(c.Request)
	if ok {
		h.carrier.Clear(c.Writer)
	}

	session, err := h.accounts.Login(requestContext(c), services.LoginInput{
		Email:          req.Email,
		Password:       req.Password,
		PresentedToken: presented,
		Client:         clientInfo(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrEmailNotVerified):
			response.Error(c, apperrors.ErrEmailNotVerified.WithMessage(msgEmailNotVerified))
		case errors.Is(err, providers.ErrInvalidCredentials):
			response.Error(c, apperrors.ErrInvalidCredentials)
		default:
			internalError(c, "login", err)
		}
		return
	}

	h.carrier.Issue(c.Writer, session)

	payload := gin.H{
		"message": msgLoginSuccessful,
		"user":    toUserPayload(session.User),
		"session": sessionPayload{Expires: session.ExpiresAt},
	}
	if h.carrier.Name() == iauth.TransportHeader {
		payload["token"] = session.Token
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/v1/auth/request-reset
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		internalError(c, "request password reset", err)
		return
	}

	response.Message(c, http.StatusOK, msgResetSent)
}

// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.accounts.ResetPassword(requestContext(c), req.Token, req.Password, clientInfo(c)); err != nil {
		if errors.Is(err, services.ErrTokenInvalid) {
			response.Error(c, apperrors.ErrInvalidToken.WithMessage(msgResetInvalid))
			return
		}
		internalError(c, "reset password", err)
		return
	}

	h.carrier.Clear(c.Writer)
	response.Message(c, http.StatusOK, msgResetSuccessful)
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := h.carrier.Extract(c.Request)
	if ok {
		if err := h.accounts.Logout(requestContext(c), token, clientInfo(c)); err != nil {
			internalError(c, "logout", err)
			return
		}
		h.carrier.Clear(c.Writer)
	}

	response.Message(c, http.StatusOK, msgLoggedOut)
}

func internalError(c *gin.Context, op string, err error) {
	logger.WithModule("http").Error("request failed",
		zap.String("op", op),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
}

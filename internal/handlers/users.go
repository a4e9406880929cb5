package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/gozman/bookshelf/internal/auth"
	apperrors "github.com/gozman/bookshelf/pkg/errors"
	"github.com/gozman/bookshelf/pkg/response"
)

// UserHandler serves endpoints for the authenticated user.
type UserHandler struct {
	sessions  *iauth.SessionService
	threshold int
}

// NewUserHandler builds the handler. A negative threshold selects the default.
func NewUserHandler(sessions *iauth.SessionService, suspiciousThreshold int) *UserHandler {
	if suspiciousThreshold < 0 {
		suspiciousThreshold = iauth.DefaultSuspiciousIPThreshold
	}
	return &UserHandler{sessions: sessions, threshold: suspiciousThreshold}
}

// GET /api/v1/user/me
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthenticated)
		return
	}
	session, ok := currentSession(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthenticated)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":    toUserPayload(user),
		"session": sessionPayload{Expires: session.ExpiresAt},
	})
}

// GET /api/v1/user/sessions/suspicious
func (h *UserHandler) SuspiciousIPs(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthenticated)
		return
	}

	threshold := parseIntQuery(c, "threshold", h.threshold)
	if threshold < 0 {
		response.Error(c, apperrors.NewBadRequest("threshold must not be negative"))
		return
	}

	ips, err := h.sessions.SuspiciousIPs(requestContext(c), user.ID, threshold)
	if err != nil {
		internalError(c, "suspicious ips", err)
		return
	}
	if ips == nil {
		ips = []iauth.IPCount{}
	}

	response.Success(c, http.StatusOK, gin.H{
		"threshold": threshold,
		"ips":       ips,
	})
}

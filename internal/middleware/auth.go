package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/gozman/bookshelf/internal/auth"
	"github.com/gozman/bookshelf/internal/models"
	apperrors "github.com/gozman/bookshelf/pkg/errors"
	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/metrics"
	"github.com/gozman/bookshelf/pkg/response"
)

const (
	CtxUserKey    = "authUser"
	CtxUserIDKey  = "userID"
	CtxSessionKey = "authSession"
)

// Messages returned to clients rejected by Auth.
const (
	MessageNoSession      = "No session found"
	MessageSessionExpired = "Session expired"
	MessageInvalidSession = "Invalid session"
)

// SessionValidator resolves a presented token to a live session.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

// Auth enforces session authentication. The token comes from carrier, is
// resolved by sessions, and the owning user is bound to the gin context.
// Every failure is reported as 401 UNAUTHENTICATED.
func Auth(sessions SessionValidator, carrier iauth.Carrier) gin.HandlerFunc {
	log := logger.WithModule("auth")

	return func(c *gin.Context) {
		token, ok := carrier.Extract(c.Request)
		if !ok {
			metrics.SessionValidations.WithLabelValues("missing").Inc()
			reject(c, carrier, MessageNoSession)
			return
		}

		session, err := sessions.Validate(c.Request.Context(), token)
		switch {
		case errors.Is(err, iauth.ErrSessionNotFound):
			metrics.SessionValidations.WithLabelValues("expired").Inc()
			carrier.Clear(c.Writer)
			reject(c, carrier, MessageSessionExpired)
			return
		case err != nil:
			metrics.SessionValidations.WithLabelValues("error").Inc()
			log.Error("session validation failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			reject(c, carrier, MessageInvalidSession)
			return
		}

		metrics.SessionValidations.WithLabelValues("valid").Inc()
		c.Set(CtxUserKey, session.User)
		c.Set(CtxUserIDKey, session.UserID)
		c.Set(CtxSessionKey, session)

		c.Next()
	}
}

func reject(c *gin.Context, carrier iauth.Carrier, message string) {
	if carrier.Name() == iauth.TransportHeader {
		c.Header("WWW-Authenticate", "Bearer")
	}
	response.Error(c, apperrors.NewUnauthenticated(message))
	c.Abort()
}

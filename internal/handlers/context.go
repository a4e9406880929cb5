package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/gozman/bookshelf/internal/middleware"
	"github.com/gozman/bookshelf/internal/models"
	"github.com/gozman/bookshelf/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func currentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(middleware.CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func currentSession(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(middleware.CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*models.Session)
	return session, ok && session != nil
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserPayload(user *models.User) userPayload {
	return userPayload{ID: user.ID, Email: user.Email, Name: user.Name}
}

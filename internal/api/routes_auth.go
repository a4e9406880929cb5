package api

import (
	"github.com/gin-gonic/gin"

	"github.com/gozman/bookshelf/internal/app"
	"github.com/gozman/bookshelf/internal/handlers"
	"github.com/gozman/bookshelf/internal/middleware"
)

type authRouteDeps struct {
	Handler   *handlers.AuthHandler
	RateStore middleware.RateStore
	Policies  app.RatePolicies
}

func registerAuthRoutes(api *gin.RouterGroup, deps authRouteDeps) {
	authLimit := middleware.RateLimit(deps.RateStore, deps.Policies.Auth)
	emailLimit := middleware.RateLimit(deps.RateStore, deps.Policies.Email)
	resetLimit := middleware.RateLimit(deps.RateStore, deps.Policies.PasswordReset)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authLimit, deps.Handler.Register)
		auth.GET("/verify-email", deps.Handler.VerifyEmail)
		auth.POST("/resend-verification", emailLimit, deps.Handler.ResendVerification)
		auth.POST("/login", authLimit, deps.Handler.Login)
		auth.POST("/request-reset", resetLimit, deps.Handler.RequestPasswordReset)
		auth.POST("/reset-password", resetLimit, deps.Handler.ResetPassword)
		auth.POST("/logout", deps.Handler.Logout)
	}
}

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/gozman/bookshelf/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler, requireAuth gin.HandlerFunc) {
	user := api.Group("/user")
	user.Use(requireAuth)
	{
		user.GET("/me", handler.Me)
		user.GET("/sessions/suspicious", handler.SuspiciousIPs)
	}
}

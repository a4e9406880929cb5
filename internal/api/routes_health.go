package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cache handlers.Pinger) {
	health := handlers.Health(db, cache)
	r.GET("/health", health)
	r.Group("/api").GET("/health", health)
}

func registerMetricsRoute(r *gin.Engine, endpoint string) {
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}

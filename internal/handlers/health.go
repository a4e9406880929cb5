package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/database"
	"github.com/gozman/bookshelf/pkg/errors"
	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// Pinger is satisfied by cache.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports readiness. The database must answer a ping. An unreachable
// cache only degrades the report since rate limiting fails open.
func Health(db *gorm.DB, cache Pinger) gin.HandlerFunc {
	log := logger.WithModule("http")

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			log.Warn("health check failed", zap.String("check", "database"), zap.Error(err))
			response.Error(c, errors.New("SERVICE_UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable))
			return
		}

		report := gin.H{"status": "ok", "database": "ok"}
		if cache != nil {
			report["cache"] = "ok"
			if err := cache.Ping(ctx); err != nil {
				log.Warn("health check degraded", zap.String("check", "cache"), zap.Error(err))
				report["status"] = "degraded"
				report["cache"] = "unavailable"
			}
		}
		response.Success(c, http.StatusOK, report)
	}
}

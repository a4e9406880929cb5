package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/gozman/bookshelf/pkg/errors"
	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/response"
)

// RatePolicy names a fixed window limit. Routes sharing a policy share its counters.
type RatePolicy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimit limits requests per (policy, client IP) within a fixed window.
// A failing store lets the request through.
func RateLimit(store RateStore, policy RatePolicy) gin.HandlerFunc {
	log := logger.WithModule("http")

	return func(c *gin.Context) {
		if store == nil || policy.Limit <= 0 || policy.Window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + policy.Name + ":" + c.ClientIP()
		count, ttl, err := store.Increment(c.Request.Context(), key, policy.Window)
		if err != nil {
			log.Warn("rate limit store unavailable",
				zap.String("policy", policy.Name),
				zap.Error(err),
			)
			c.Next()
			return
		}

		remaining := policy.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		if ttl < 0 {
			ttl = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))

		if count > policy.Limit {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

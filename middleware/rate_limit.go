package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/pkg/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimit admits requests under the named policy. Clients are keyed by
// IP and, when authenticated, user id, so it must run after AuthMiddleware
// on protected routes.
func RateLimit(limiter *ratelimit.Limiter, name string, p config.PolicyConfig) gin.HandlerFunc {
	policy := ratelimit.Policy{Name: name, Window: p.Window, Limit: p.MaxRequests}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := ratelimit.Key(name, c.ClientIP(), GetUserID(c))

		res, err := limiter.Take(ctx, policy, key)
		if err != nil {
			logger.Error(ctx, "rate limiter unavailable",
				"policy", name,
				"fail_closed", p.FailClosed,
				"error", err,
			)
			if p.FailClosed {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "Rate limiter unavailable"})
				return
			}
			c.Next()
			return
		}

		now := time.Now()
		c.Header("RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(int(res.RetryAfter(now).Seconds())))

		if !res.Allowed {
			logger.Warn(ctx, "rate limit exceeded",
				"policy", name,
				"client_ip", c.ClientIP(),
			)
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter(now).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": p.Message})
			return
		}

		c.Next()

		if p.CountOnlyFailures && c.Writer.Status() < http.StatusBadRequest {
			if err := limiter.Refund(context.WithoutCancel(ctx), key); err != nil {
				logger.Warn(ctx, "rate limit refund failed", "policy", name, "error", err)
			}
		}
	}
}

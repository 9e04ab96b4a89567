package middleware

import (
	"context"
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/pkg/apierror"
	"github.com/martinmaurice/erpgate/pkg/enum"
	"github.com/martinmaurice/erpgate/pkg/rate_limiter"
	"log/slog"
	"strconv"
)

// UnknownClientKey is shared by every request whose client IP cannot be
// determined.
const UnknownClientKey = "unknown"

type RateLimitMiddlewareServicer interface {
	CheckRateLimit(ctx context.Context, key string, rateLimiterID string) rate_limiter.Decision
}

type RejectionRecorder func(policy string)

func ClientKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return UnknownClientKey
}

// RateLimitByClientIPMiddleware admits the request when the client's bucket
// under rateLimiterID has a token, otherwise answers 429 with Retry-After.
func RateLimitByClientIPMiddleware(servicer RateLimitMiddlewareServicer, rateLimiterID string, onReject RejectionRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ClientKey(c)
		decision := servicer.CheckRateLimit(c.Request.Context(), key, rateLimiterID)
		if decision.Allowed {
			c.Next()
			return
		}

		slog.Info("Request not allowed",
			"key", key,
			"rate_limiter_id", rateLimiterID,
			"stage", enum.StageRateLimitCheck.String(),
		)
		if onReject != nil {
			onReject(rateLimiterID)
		}
		c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		apierror.Abort(c, apierror.RateLimited)
	}
}

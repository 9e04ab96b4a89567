package middleware

import (
	"github.com/gin-gonic/gin"
	"time"
)

const ReqArrivalTimeContextValueKey = "reqArrivalTime"

func QueueTimeMiddleware(c *gin.Context) {
	c.Set(ReqArrivalTimeContextValueKey, time.Now())
	c.Next()
}

// QueueTime is how long ago QueueTimeMiddleware saw the request.
func QueueTime(c *gin.Context) (time.Duration, bool) {
	arrival, exists := c.Get(ReqArrivalTimeContextValueKey)
	if !exists {
		return 0, false
	}
	t, ok := arrival.(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader          = "X-Request-ID"
	RequestIDContextValueKey = "requestID"
)

// RequestIDMiddleware reuses the caller's X-Request-ID or generates one, and
// echoes it on the response.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	c.Set(RequestIDContextValueKey, requestID)
	c.Header(RequestIDHeader, requestID)
	c.Next()
}

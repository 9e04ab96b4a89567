package middleware

import "github.com/gin-gonic/gin"

// SecurityHeadersMiddleware sets the headers every proxied response carries,
// error responses included.
func SecurityHeadersMiddleware(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Next()
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/pkg/config"
	"github.com/martinmaurice/erpgate/pkg/rate_limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRateLimitedEngine(t *testing.T, maxRequests int, rejected *[]string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		RateLimiters: map[string]config.RateLimiterConfig{
			"proxy": {ID: "proxy", Window: time.Minute, MaxRequests: maxRequests},
		},
	}
	client := rate_limiter.New(cfg, rate_limiter.NewMemoryStorage())

	r := gin.New()
	require.NoError(t, r.SetTrustedProxies([]string{"127.0.0.1"}))
	r.Use(SecurityHeadersMiddleware)
	r.Use(RateLimitByClientIPMiddleware(client, "proxy", func(policy string) {
		*rejected = append(*rejected, policy)
	}))
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"success": true}) })
	return r
}

func doRequest(r http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByClientIPMiddleware(t *testing.T) {
	var rejected []string
	r := newRateLimitedEngine(t, 2, &rejected)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1:1234", "").Code)

	rec := doRequest(r, "10.0.0.1:1234", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), "rejections carry security headers")
	assert.Equal(t, []string{"proxy"}, rejected)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.2:1234", "").Code, "other clients have their own bucket")
}

func TestRateLimitByClientIPMiddleware_ForwardedForFromTrustedProxy(t *testing.T) {
	var rejected []string
	r := newRateLimitedEngine(t, 1, &rejected)

	assert.Equal(t, http.StatusOK, doRequest(r, "127.0.0.1:9000", "203.0.113.7").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, "127.0.0.1:9000", "203.0.113.8").Code, "each forwarded client is its own key")
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "127.0.0.1:9000", "203.0.113.7").Code)
}

func TestRateLimitByClientIPMiddleware_ForwardedForFromUntrustedPeer(t *testing.T) {
	var rejected []string
	r := newRateLimitedEngine(t, 1, &rejected)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.9:9000", "203.0.113.7").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "10.0.0.9:9000", "203.0.113.8").Code, "spoofed header is ignored")
}

func TestClientKey_Unknown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = ""

	assert.Equal(t, UnknownClientKey, ClientKey(c))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDContextValueKey))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeadersMiddleware)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestQueueTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := QueueTime(c)
	assert.False(t, ok)

	c.Set(ReqArrivalTimeContextValueKey, time.Now().Add(-time.Second))
	d, ok := QueueTime(c)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, d, time.Second)
}

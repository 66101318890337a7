package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/msgrelay/clog"
)

func newMiddlewareRouter(t *testing.T, limit Limit) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger, _ := clog.New(&clog.Config{Level: "error"})
	limiter, err := NewStandalone(nil, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	r := gin.New()
	r.Use(GinMiddleware(limiter, nil, limit))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func doRequest(r *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/ping", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGinMiddleware(t *testing.T) {
	t.Run("限额内的请求放行", func(t *testing.T) {
		r := newMiddlewareRouter(t, Limit{Requests: 2, Window: time.Minute})

		rec := doRequest(r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("超限请求返回 429 和 Retry-After", func(t *testing.T) {
		r := newMiddlewareRouter(t, Limit{Requests: 1, Window: time.Minute})

		assert.Equal(t, http.StatusOK, doRequest(r).Code)

		rec := doRequest(r)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "rate limit exceeded")
	})

	t.Run("非法规则放行", func(t *testing.T) {
		r := newMiddlewareRouter(t, Limit{})
		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, doRequest(r).Code)
		}
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/odiseohq/mailqd/limiter"
)

// requireAPIKey authenticates requests via the X-API-Key header using a
// constant-time comparison.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing API key",
			})
			return
		}
		c.Next()
	}
}

// rateLimit rejects requests over the submission budget with 429 and a
// Retry-After hint from the tightest violated window.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := limiter.ClientKey(c.Request.RemoteAddr, c.GetHeader("X-Forwarded-For"))
		ok, retryAfter := s.limiter.Allow(key)
		if !ok {
			c.Header("Retry-After", formatRetryAfter(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(retryAfter.Seconds()),
			})
			return
		}
		c.Next()
	}
}

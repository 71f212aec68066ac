package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Per-client limits for the HTTP surface.
const (
	clientRate  = 5
	clientBurst = 15
	clientTTL   = 10 * time.Minute
)

// rateLimiter keeps one token bucket per client IP.
func rateLimiter() gin.HandlerFunc {
	limiters := gocache.New(clientTTL, 2*clientTTL)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		var limiter *rate.Limiter
		if v, ok := limiters.Get(ip); ok {
			limiter = v.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(rate.Limit(clientRate), clientBurst)
			limiters.Set(ip, limiter, gocache.DefaultExpiration)
		}

		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// requestLogger logs every request at debug level and server errors at
// error level.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// recovery converts a handler panic into a 500 response.
func recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Msg("Panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

// RateLimiter is a fixed-window request counter per key
type RateLimiter struct {
	mu        sync.Mutex
	tokens    map[string]int
	lastReset time.Time
	rate      int           // requests per window
	window    time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:    make(map[string]int),
		lastReset: time.Now(),
		rate:      rate,
		window:    window,
	}
}

// Allow counts a request for key and reports whether it is within the limit,
// plus the time left in the current window.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastReset) > l.window {
		l.tokens = make(map[string]int)
		l.lastReset = time.Now()
	}
	remaining := l.window - time.Since(l.lastReset)

	count := l.tokens[key]
	if count >= l.rate {
		return false, remaining
	}
	l.tokens[key] = count + 1
	return true, remaining
}

// rateLimitKey prefers the authenticated user over the client IP.
func rateLimitKey(c *gin.Context) string {
	if username := GetUsername(c); username != "" {
		return "user:" + username
	}
	return "ip:" + c.ClientIP()
}

// RateLimit middleware limits requests per user, or per IP before auth
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, retryAfter := limiter.Allow(key)
		if !allowed {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "key", key)

			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}

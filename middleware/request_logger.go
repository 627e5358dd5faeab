package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

// quietPaths are logged at debug level only.
var quietPaths = map[string]bool{
	"/health": true,
}

// redactQuery encodes the query with the access token masked.
func redactQuery(q url.Values) string {
	if q.Has(TokenQueryParam) {
		q.Set(TokenQueryParam, "REDACTED")
	}
	return q.Encode()
}

// RequestLogger logs every request once it has been handled
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := redactQuery(c.Request.URL.Query())

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"bytes_in", c.Request.ContentLength,
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		// c.Request carries the context enriched by later middleware.
		log := logger.WithContext(c.Request.Context())

		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		case quietPaths[path]:
			log.Debug("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

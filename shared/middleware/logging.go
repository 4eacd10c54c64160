package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID, ok := GetUserID(c); ok {
			attrs = append(attrs, "user_id", userID)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			slog.ErrorContext(c.Request.Context(), "request completed", attrs...)
		case status >= 400:
			slog.WarnContext(c.Request.Context(), "request completed", attrs...)
		default:
			slog.InfoContext(c.Request.Context(), "request completed", attrs...)
		}
	}
}

package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	DocumentIDKey      = "documentId"
	AttachmentIDKey    = "attachmentId"
	AttachmentCountKey = "attachmentCount"
)

// quietRoutes are probed constantly; they log at debug.
var quietRoutes = map[string]bool{
	"/metrics":       true,
	"/api/v1/health": true,
}

// Logging emits one request.complete line per request, at error for 5xx and
// warn for 4xx. Only the path is logged so signed URL parameters stay out.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes_out":   c.Writer.Size(),
			"user_id":     UserIDFromContext(c),
			"role":        stringFromContext(c, userRoleKey),
			"client_ip":   c.ClientIP(),
		}
		for logKey, ctxKey := range map[string]string{
			"document_id":      DocumentIDKey,
			"attachment_id":    AttachmentIDKey,
			"attachment_count": AttachmentCountKey,
		} {
			if v, ok := c.Get(ctxKey); ok {
				fields[logKey] = v
			}
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status >= http.StatusBadRequest:
			telemetry.Warn("request.complete", fields)
		case quietRoutes[c.FullPath()]:
			telemetry.Debug("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}

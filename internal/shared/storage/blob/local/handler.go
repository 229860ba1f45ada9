package local

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/server/respond"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/telemetry"
)

// ServeSigned serves GET /blobs/*key for URLs issued by Presign.
func (s *Store) ServeSigned(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	o, err := s.Verify(key, c.Request.URL.Query())
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrSignatureExpired) {
			status = http.StatusGone
		}
		respond.Error(c, status, "forbidden", err.Error(), nil)
		return
	}

	rc, err := s.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			respond.Error(c, http.StatusNotFound, "not_found", "object not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to open object", nil)
		return
	}
	defer rc.Close()

	contentType := o.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	if o.ContentDisposition != "" {
		c.Header("Content-Disposition", o.ContentDisposition)
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Error("blob.serve_failed", map[string]any{
			"blob_key":   key,
			"request_id": c.GetString("requestId"),
			"error":      err.Error(),
		})
	}
}

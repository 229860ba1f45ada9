package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/auth"
	"docvault-backend/internal/shared/telemetry"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(nil) })
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	out := strings.TrimSpace(buf.String())
	if out == "" {
		t.Fatalf("no log output")
	}
	lines := strings.Split(out, "\n")
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := newTestVerifier(t, nil)
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestID(), Logging(), Auth(v))
	router.GET("/api/v1/documents/:id/signedUrls", func(c *gin.Context) {
		c.Set(DocumentIDKey, c.Param("id"))
		c.Set(AttachmentCountKey, 2)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/signedUrls?sig=secret-value", nil)
	req.Header.Set("Authorization", bearer(t, v, auth.Identity{UserID: "user-1"}))
	router.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(buf.String(), "secret-value") {
		t.Fatalf("query string leaked into logs: %s", buf.String())
	}
	payload := lastLine(t, buf)
	for _, key := range []string{"request_id", "user_id", "document_id", "attachment_count", "duration_ms", "status"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["user_id"] != "user-1" || payload["document_id"] != "doc-1" {
		t.Fatalf("unexpected identity fields: %v", payload)
	}
	if payload["attachment_count"] != float64(2) {
		t.Fatalf("unexpected attachment_count: %v", payload["attachment_count"])
	}
	if _, ok := payload["attachment_id"]; ok {
		t.Fatalf("unset context keys should be omitted")
	}
}

func TestLoggingLevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{status: http.StatusOK, level: "info"},
		{status: http.StatusNotFound, level: "warn"},
		{status: http.StatusBadGateway, level: "error"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			buf := captureLogs(t)
			router := gin.New()
			router.Use(Logging())
			router.GET("/x", func(c *gin.Context) { c.Status(tt.status) })

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			if got := lastLine(t, buf)["level"]; got != tt.level {
				t.Fatalf("expected level %s, got %v", tt.level, got)
			}
		})
	}
}

func TestLoggingHealthIsQuiet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)
	router := gin.New()
	router.Use(Logging())
	router.GET("/api/v1/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("health probe should log at debug only, got %s", buf.String())
	}
}

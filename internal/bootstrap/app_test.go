package bootstrap

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/auth"
	"docvault-backend/internal/shared/config"
)

const testSecret = "bootstrap-test-secret-at-least-32-bytes"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:               "dev",
		CORSAllowOrigin:   []string{"http://localhost:5173"},
		MetadataStoreType: "memory",
		ObjectStoreType:   "local",
		LocalStoreDir:     t.TempDir(),
		PublicBaseURL:     "http://docvault.test",
		BlobSigningSecret: "bootstrap-blob-secret",
		JWTSecret:         testSecret,
		MaxFileSizeBytes:  1 << 20,
		BlobTimeout:       5 * time.Second,
		MetadataTimeout:   5 * time.Second,
		OrphanSink:        "log",
	}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	v, err := auth.NewVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	token, err := v.Sign(auth.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func do(t *testing.T, r http.Handler, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBuildServesDocumentLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	owner := bearer(t, "user-1", "user")
	other := bearer(t, "user-2", "user")

	rec := do(t, app.Router, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec = do(t, app.Router, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: %d", rec.Code)
	}

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(`{"title":"Quarterly Report"}`))
	createReq.Header.Set("Content-Type", "application/json")
	rec = do(t, app.Router, createReq, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("decode create: %v %s", err, rec.Body.String())
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("meeting notes"))
	_ = mw.Close()
	uploadReq := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+created.ID+"/attachments", &body)
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	rec = do(t, app.Router, uploadReq, owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var added []struct {
		AttachmentID string `json:"attachmentId"`
		SignedURL    string `json:"signedUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &added); err != nil || len(added) != 1 {
		t.Fatalf("decode upload: %v %s", err, rec.Body.String())
	}

	signed, err := url.Parse(added[0].SignedURL)
	if err != nil || signed.Host != "docvault.test" {
		t.Fatalf("unexpected signed url %q", added[0].SignedURL)
	}
	rec = do(t, app.Router, httptest.NewRequest(http.MethodGet, signed.RequestURI(), nil), "")
	if rec.Code != http.StatusOK || rec.Body.String() != "meeting notes" {
		t.Fatalf("signed download: %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, app.Router, httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?q=quarterly", nil), owner)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.ID) {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}

	deletePath := "/api/v1/documents/" + created.ID + "/attachments/" + added[0].AttachmentID
	rec = do(t, app.Router, httptest.NewRequest(http.MethodDelete, deletePath, nil), other)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete by non-owner: %d", rec.Code)
	}
	rec = do(t, app.Router, httptest.NewRequest(http.MethodDelete, deletePath, nil), owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete by owner: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, app.Router, httptest.NewRequest(http.MethodGet, signed.RequestURI(), nil), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("download after delete: %d", rec.Code)
	}

	rec = do(t, app.Router, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "attachments_added_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildRejectsWeakJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = "short"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error for weak secret")
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.MetadataStoreType = "postgres"
	cfg.DatabaseURL = ""
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

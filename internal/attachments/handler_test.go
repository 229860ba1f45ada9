package attachments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/attachments"
	"docvault-backend/internal/documents"
	"docvault-backend/internal/shared/storage/blob/local"
)

func newTestRouter(t *testing.T) (*gin.Engine, *documents.MemoryRepo, string) {
	t.Helper()
	return newTestRouterWith(t, attachments.Options{
		BlobTimeout:     time.Second,
		MetadataTimeout: time.Second,
	})
}

func newTestRouterWith(t *testing.T, opts attachments.Options) (*gin.Engine, *documents.MemoryRepo, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := documents.NewMemoryRepo()
	store := local.New(t.TempDir(), "http://localhost:8080", "handler-test-secret")
	mgr := attachments.NewManager(repo, store, attachments.LogSink{}, opts)

	doc := documents.Document{ID: "doc-1", Title: "Q1 Report", CreatedAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set("userId", c.GetHeader("X-Test-User"))
		c.Set("userRole", c.GetHeader("X-Test-Role"))
		c.Next()
	})
	attachments.NewHandler(mgr).RegisterRoutes(api)
	return router, repo, doc.ID
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
		h.Set("Content-Type", "text/plain")
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func upload(t *testing.T, router *gin.Engine, docID, user string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+docID+"/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-User", user)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestAttachmentRoutes(t *testing.T) {
	router, repo, docID := newTestRouter(t)

	resp := upload(t, router, docID, "owner", map[string]string{"notes.txt": "hello"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created []attachments.SignedAttachmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created) != 1 || created[0].AttachmentID == "" || created[0].Title != "notes.txt" || created[0].SignedURL == "" {
		t.Fatalf("unexpected response %+v", created)
	}

	signedReq := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID+"/signedUrls", nil)
	signedResp := httptest.NewRecorder()
	router.ServeHTTP(signedResp, signedReq)
	if signedResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", signedResp.Code)
	}

	path := "/api/v1/documents/" + docID + "/attachments/" + created[0].AttachmentID
	forbidden := httptest.NewRequest(http.MethodDelete, path, nil)
	forbidden.Header.Set("X-Test-User", "intruder")
	forbiddenResp := httptest.NewRecorder()
	router.ServeHTTP(forbiddenResp, forbidden)
	if forbiddenResp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", forbiddenResp.Code)
	}

	del := httptest.NewRequest(http.MethodDelete, path, nil)
	del.Header.Set("X-Test-User", "owner")
	delResp := httptest.NewRecorder()
	router.ServeHTTP(delResp, del)
	if delResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", delResp.Code, delResp.Body.String())
	}

	doc, _ := repo.GetByID(context.Background(), docID)
	if len(doc.Attachments) != 0 {
		t.Fatalf("attachment still present: %+v", doc.Attachments)
	}

	again := httptest.NewRecorder()
	againReq := httptest.NewRequest(http.MethodDelete, path, nil)
	againReq.Header.Set("X-Test-User", "owner")
	router.ServeHTTP(again, againReq)
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", again.Code)
	}
}

func TestAttachmentUploadRejections(t *testing.T) {
	router, _, docID := newTestRouter(t)

	six := make(map[string]string, 6)
	for i := 0; i < 6; i++ {
		six[fmt.Sprintf("f%d.txt", i)] = "x"
	}
	if resp := upload(t, router, docID, "owner", six); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for six files, got %d", resp.Code)
	}

	if resp := upload(t, router, "missing", "owner", map[string]string{"a.txt": "x"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+docID+"/attachments", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "owner")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", resp.Code)
	}
}

func TestAttachmentUploadOverBodyLimitIsValidationError(t *testing.T) {
	router, repo, docID := newTestRouterWith(t, attachments.Options{
		MaxFileSize:     16,
		BlobTimeout:     time.Second,
		MetadataTimeout: time.Second,
	})

	big := strings.Repeat("x", 2<<20)
	resp := upload(t, router, docID, "owner", map[string]string{"big.txt": big})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", body.Error.Code)
	}

	doc, _ := repo.GetByID(context.Background(), docID)
	if len(doc.Attachments) != 0 {
		t.Fatalf("oversized upload must not be stored: %+v", doc.Attachments)
	}
}

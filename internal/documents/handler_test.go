package documents_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/documents"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := &documents.Service{Repo: documents.NewMemoryRepo()}
	router := gin.New()
	documents.NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestDocumentsCreateGetAndSearch(t *testing.T) {
	router := newRouter()

	body, _ := json.Marshal(map[string]string{"title": "Quarterly Plan"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created documents.DocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.Title != "Quarterly Plan" || len(created.Attachments) != 0 {
		t.Fatalf("unexpected document %+v", created)
	}

	getResp := httptest.NewRecorder()
	router.ServeHTTP(getResp, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+created.ID, nil))
	if getResp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", getResp.Code)
	}

	searchResp := httptest.NewRecorder()
	router.ServeHTTP(searchResp, httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?q=quarterly", nil))
	if searchResp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", searchResp.Code)
	}
	var hits []documents.SearchResultResponse
	if err := json.NewDecoder(searchResp.Body).Decode(&hits); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != created.ID || hits[0].Score <= 0 {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestDocumentsErrors(t *testing.T) {
	router := newRouter()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "blank title", method: http.MethodPost, path: "/api/v1/documents", body: `{"title":"  "}`, status: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, path: "/api/v1/documents", body: `{`, status: http.StatusBadRequest},
		{name: "missing document", method: http.MethodGet, path: "/api/v1/documents/nope", status: http.StatusNotFound},
		{name: "blank query", method: http.MethodGet, path: "/api/v1/documents/search?q=%20%20", status: http.StatusBadRequest},
		{name: "missing query", method: http.MethodGet, path: "/api/v1/documents/search", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}
}

package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/shared/server/middleware"
	"docvault-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.create)
	rg.GET("/documents", h.list)
	rg.GET("/documents/search", h.search)
	rg.GET("/documents/:id", h.get)
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	doc, err := h.Svc.Create(c.Request.Context(), req.Title)
	if err != nil {
		h.fail(c, err, "failed to create document")
		return
	}
	c.Set(middleware.DocumentIDKey, doc.ID)

	respond.JSON(c, http.StatusCreated, toResponse(doc, nil))
}

func (h *Handler) list(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, err, "failed to list documents")
		return
	}

	resp := make([]SummaryResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, SummaryResponse{ID: doc.ID, Title: doc.Title, CreatedAt: doc.CreatedAt})
	}
	respond.OK(c, resp)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set(middleware.DocumentIDKey, id)

	doc, links, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, toResponse(doc, links))
}

func (h *Handler) search(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}

	results, err := h.Svc.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.fail(c, err, "failed to search documents")
		return
	}

	resp := make([]SearchResultResponse, 0, len(results))
	for _, r := range results {
		resp = append(resp, SearchResultResponse{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, Score: r.Score})
	}
	respond.OK(c, resp)
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", message, nil)
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

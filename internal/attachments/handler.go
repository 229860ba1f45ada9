package attachments

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/shared/server/middleware"
	"docvault-backend/internal/shared/server/respond"
)

const multipartOverhead = 1 << 20

// Handler wires attachment routes to the Manager.
type Handler struct {
	Mgr *Manager
}

// NewHandler constructs a Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{Mgr: mgr}
}

// RegisterRoutes attaches attachment routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/:id/attachments", h.add)
	rg.DELETE("/documents/:id/attachments/:attachmentId", h.remove)
	rg.GET("/documents/:id/signedUrls", h.signedURLs)
}

func (h *Handler) add(c *gin.Context) {
	documentID := c.Param("id")
	c.Set(middleware.DocumentIDKey, documentID)

	limit := int64(h.Mgr.MaxFiles)*h.Mgr.MaxFileSize + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "upload exceeds size limit",
				gin.H{"maxFileBytes": h.Mgr.MaxFileSize, "maxFiles": h.Mgr.MaxFiles})
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form with field 'file' is required", nil)
		return
	}
	headers := form.File["file"]
	if len(headers) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if len(headers) > h.Mgr.MaxFiles {
		respond.Error(c, http.StatusBadRequest, "validation_error", "too many files", gin.H{"max": h.Mgr.MaxFiles})
		return
	}
	c.Set(middleware.AttachmentCountKey, len(headers))

	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, uploadFromHeader(fh))
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	added, err := h.Mgr.AddAttachments(ctx, documentID, middleware.UserIDFromContext(c), uploads)
	if err != nil {
		h.fail(c, err, "failed to add attachments")
		return
	}

	resp := make([]SignedAttachmentResponse, 0, len(added))
	for _, a := range added {
		resp = append(resp, signedResponse(a.Attachment.ID, a.Attachment.Title, a.SignedURL, a.Err))
	}
	respond.JSON(c, http.StatusCreated, resp)
}

func uploadFromHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (h *Handler) remove(c *gin.Context) {
	documentID := c.Param("id")
	attachmentID := c.Param("attachmentId")
	c.Set(middleware.DocumentIDKey, documentID)
	c.Set(middleware.AttachmentIDKey, attachmentID)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	if err := h.Mgr.RemoveAttachment(ctx, documentID, attachmentID, middleware.IdentityFromContext(c)); err != nil {
		h.fail(c, err, "failed to remove attachment")
		return
	}
	respond.OK(c, removeResponse{AttachmentID: attachmentID, Deleted: true})
}

func (h *Handler) signedURLs(c *gin.Context) {
	documentID := c.Param("id")
	c.Set(middleware.DocumentIDKey, documentID)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	links, err := h.Mgr.SignedURLs(ctx, documentID)
	if err != nil {
		h.fail(c, err, "failed to sign attachment urls")
		return
	}

	resp := make([]SignedAttachmentResponse, 0, len(links))
	for _, l := range links {
		resp = append(resp, signedResponse(l.AttachmentID, l.Title, l.URL, l.Err))
	}
	respond.OK(c, resp)
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, documents.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, documents.ErrAttachmentNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "attachment not found", nil)
	case errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "only the uploader or an admin may remove this attachment", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "upstream_error", message, nil)
	}
}

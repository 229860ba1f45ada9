package documents

import "time"

type createRequest struct {
	Title string `json:"title"`
}

// SummaryResponse is the list representation of a document.
type SummaryResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// AttachmentResponse describes one attachment with its signed URL.
type AttachmentResponse struct {
	AttachmentID string    `json:"attachmentId"`
	Title        string    `json:"title"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
	SignedURL    string    `json:"signedUrl,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Attachments []AttachmentResponse `json:"attachments"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// SearchResultResponse is one ranked search hit.
type SearchResultResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Score     float64   `json:"score"`
}

func toResponse(doc Document, links []SignedLink) DocumentResponse {
	byID := make(map[string]SignedLink, len(links))
	for _, l := range links {
		byID[l.AttachmentID] = l
	}

	atts := make([]AttachmentResponse, 0, len(doc.Attachments))
	for _, a := range doc.Attachments {
		resp := AttachmentResponse{
			AttachmentID: a.ID,
			Title:        a.Title,
			MimeType:     a.MimeType,
			SizeBytes:    a.SizeBytes,
			CreatedAt:    a.CreatedAt,
		}
		if l, ok := byID[a.ID]; ok {
			if l.Err != nil {
				resp.Error = "signed url unavailable"
			} else {
				resp.SignedURL = l.URL
			}
		}
		atts = append(atts, resp)
	}

	return DocumentResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Attachments: atts,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

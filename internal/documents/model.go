package documents

import (
	"strings"
	"time"
)

// Document is a titled container of attachments plus the text extracted from them.
type Document struct {
	ID          string
	Title       string
	Attachments []Attachment
	FullText    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attachment points at one object in the blob store.
type Attachment struct {
	ID          string
	OwnerUserID string
	BlobKey     string
	Title       string
	MimeType    string
	SizeBytes   int64
	CreatedAt   time.Time
}

// FindAttachment returns the attachment with the given id.
func (d Document) FindAttachment(id string) (Attachment, bool) {
	for _, a := range d.Attachments {
		if a.ID == id {
			return a, true
		}
	}
	return Attachment{}, false
}

// extractedText is the text recorded for one attachment. A document keeps one
// entry per attachment in insertion order; entries outlive attachment removal.
type extractedText struct {
	AttachmentID string
	Text         string
}

// joinExtracted concatenates the non-empty texts, separated by a blank line.
func joinExtracted(entries []extractedText) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Text != "" {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func cloneDocument(d Document) Document {
	if d.Attachments != nil {
		atts := make([]Attachment, len(d.Attachments))
		copy(atts, d.Attachments)
		d.Attachments = atts
	}
	return d
}

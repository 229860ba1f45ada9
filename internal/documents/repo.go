package documents

import "context"

// Repo persists documents and their attachment metadata.
//
// AppendAttachments and SetAttachmentTexts are atomic per document: concurrent
// calls on the same document never lose each other's writes.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	// List returns documents newest first without attachments or full text.
	List(ctx context.Context, limit, offset int) ([]Document, error)
	AppendAttachments(ctx context.Context, documentID string, atts []Attachment) error
	// SetAttachmentTexts records extracted text per attachment id and rebuilds
	// the full text from the recorded texts in attachment insertion order.
	// Unknown ids are ignored. An empty map is a no-op.
	SetAttachmentTexts(ctx context.Context, documentID string, texts map[string]string) error
	RemoveAttachment(ctx context.Context, documentID, attachmentID string) error
	FindByBlobKey(ctx context.Context, blobKey string) (Document, Attachment, error)
	// SearchCandidates returns up to limit documents whose title or full text
	// contains any of terms, case-insensitively. Before the limit applies,
	// candidates are ordered by exact title match, then by the number of terms
	// found in the title, then in the full text, then newest update first.
	SearchCandidates(ctx context.Context, terms []string, limit int) ([]Document, error)
}

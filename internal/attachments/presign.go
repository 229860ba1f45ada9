package attachments

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/extract"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/telemetry"
)

// PresignTTL is the lifetime of every issued URL.
const PresignTTL = time.Hour

const defaultSignConcurrency = 5

// Issuer converts blob keys into time-limited bearer URLs. Issued URLs are
// never logged.
type Issuer struct {
	Blobs   blob.Store
	Limit   int
	Timeout time.Duration
}

// NewIssuer constructs an Issuer over blobs.
func NewIssuer(blobs blob.Store, timeout time.Duration) *Issuer {
	return &Issuer{Blobs: blobs, Limit: defaultSignConcurrency, Timeout: timeout}
}

// OverridesFor forces inline PDF display for PDF attachments.
func OverridesFor(a documents.Attachment) blob.Overrides {
	if extract.IsPDF(a.MimeType, a.Title) {
		return blob.Overrides{ContentType: "application/pdf", ContentDisposition: "inline"}
	}
	return blob.Overrides{}
}

// Presign returns a URL for blobKey valid for PresignTTL.
func (i *Issuer) Presign(ctx context.Context, blobKey string, o blob.Overrides) (string, error) {
	ctx, cancel := withTimeout(ctx, i.Timeout)
	defer cancel()
	return i.Blobs.Presign(ctx, blobKey, PresignTTL, o)
}

// SignAll presigns every attachment with bounded concurrency. Results keep
// the order of atts; a failed item carries Err and an empty URL.
func (i *Issuer) SignAll(ctx context.Context, atts []documents.Attachment) []documents.SignedLink {
	out := make([]documents.SignedLink, len(atts))
	if len(atts) == 0 {
		return out
	}

	limit := i.Limit
	if limit <= 0 {
		limit = defaultSignConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for idx, a := range atts {
		idx, a := idx, a
		g.Go(func() error {
			link := documents.SignedLink{AttachmentID: a.ID, Title: a.Title}
			url, err := i.Presign(ctx, a.BlobKey, OverridesFor(a))
			if err != nil {
				metrics.IncPresignFailed()
				telemetry.Warn("attachments.presign_failed", map[string]any{
					"attachment_id": a.ID,
					"blob_key":      a.BlobKey,
					"request_id":    requestIDFromContext(ctx),
					"error":         err,
				})
				link.Err = err
			} else {
				link.URL = url
			}
			out[idx] = link
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var _ documents.LinkSigner = (*Issuer)(nil)

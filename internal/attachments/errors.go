package attachments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("upstream failure")
)

// UpstreamError is a blob or metadata store failure. BlobKeys lists the
// objects affected so the failure can be reconciled.
type UpstreamError struct {
	Op         string
	DocumentID string
	BlobKeys   []string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s document=%s", e.Op, e.DocumentID)
	if len(e.BlobKeys) > 0 {
		msg += " keys=" + strings.Join(e.BlobKeys, ",")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// ExtractionError is a per-file text extraction failure. It is logged and
// never returned to callers.
type ExtractionError struct {
	AttachmentID string
	BlobKey      string
	Err          error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract attachment=%s key=%s: %v", e.AttachmentID, e.BlobKey, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

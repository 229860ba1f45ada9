package documents

import "errors"

var (
	ErrNotFound           = errors.New("document not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidInput       = errors.New("invalid input")
	// ErrDuplicateBlobKey is returned when an appended attachment reuses a blob key.
	ErrDuplicateBlobKey = errors.New("duplicate blob key")
)

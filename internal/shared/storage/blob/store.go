package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// Overrides are response headers baked into a signed URL.
type Overrides struct {
	ContentType        string
	ContentDisposition string
}

// Store is the object store holding attachment payloads. Keys are opaque and
// caller-chosen; Delete of a missing key succeeds.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Presign(ctx context.Context, key string, ttl time.Duration, o Overrides) (string, error)
}

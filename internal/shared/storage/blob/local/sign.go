package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docvault-backend/internal/shared/storage/blob"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
)

const (
	paramExpires     = "expires"
	paramSignature   = "sig"
	paramContentType = "response-content-type"
	paramDisposition = "response-content-disposition"
)

// Presign returns a URL for the /blobs route that is valid for ttl.
func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration, o blob.Overrides) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	if len(s.secret) == 0 {
		return "", errors.New("local store signing secret not configured")
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)

	q := url.Values{}
	q.Set(paramExpires, expires)
	if o.ContentType != "" {
		q.Set(paramContentType, o.ContentType)
	}
	if o.ContentDisposition != "" {
		q.Set(paramDisposition, o.ContentDisposition)
	}
	q.Set(paramSignature, s.signature(key, expires, o))

	return s.baseURL + "/blobs/" + escapeKey(key) + "?" + q.Encode(), nil
}

// Verify checks a signed request for key and returns the overrides it carries.
func (s *Store) Verify(key string, q url.Values) (blob.Overrides, error) {
	o := blob.Overrides{
		ContentType:        q.Get(paramContentType),
		ContentDisposition: q.Get(paramDisposition),
	}
	expires := q.Get(paramExpires)
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return blob.Overrides{}, ErrSignatureInvalid
	}
	want := s.signature(key, expires, o)
	if !hmac.Equal([]byte(want), []byte(q.Get(paramSignature))) {
		return blob.Overrides{}, ErrSignatureInvalid
	}
	if s.now().Unix() > unix {
		return blob.Overrides{}, ErrSignatureExpired
	}
	return o, nil
}

func (s *Store) signature(key, expires string, o blob.Overrides) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join([]string{key, expires, o.ContentType, o.ContentDisposition}, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

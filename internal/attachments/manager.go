package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/queue"
	"docvault-backend/internal/shared/auth"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/telemetry"
)

const (
	defaultMaxFiles    = 5
	defaultMaxFileSize = 10 << 20
)

// Upload is one file submitted to AddAttachments.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Added is one stored attachment and its signed URL. Err is set when only
// the URL could not be issued.
type Added struct {
	Attachment documents.Attachment
	SignedURL  string
	Err        error
}

// Manager adds and removes attachments across the blob and metadata stores.
// The two stores are not transactional: partial failures are compensated
// where possible and otherwise reported to Orphans.
type Manager struct {
	Repo            documents.Repo
	Blobs           blob.Store
	Issuer          *Issuer
	Pipeline        *Pipeline
	Orphans         OrphanSink
	Keys            *KeyGenerator
	MaxFiles        int
	MaxFileSize     int64
	BlobTimeout     time.Duration
	MetadataTimeout time.Duration

	newID func() string
	now   func() time.Time
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	MaxFiles        int
	MaxFileSize     int64
	BlobTimeout     time.Duration
	MetadataTimeout time.Duration
}

// NewManager wires a Manager with its issuer, pipeline and key generator.
func NewManager(repo documents.Repo, blobs blob.Store, orphans OrphanSink, opts Options) *Manager {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if orphans == nil {
		orphans = LogSink{}
	}

	pipeline := NewPipeline(blobs, repo)
	pipeline.Limit = opts.MaxFiles
	pipeline.MaxBytes = opts.MaxFileSize
	pipeline.BlobTimeout = opts.BlobTimeout
	pipeline.MetadataTimeout = opts.MetadataTimeout

	issuer := NewIssuer(blobs, opts.BlobTimeout)
	issuer.Limit = opts.MaxFiles

	return &Manager{
		Repo:            repo,
		Blobs:           blobs,
		Issuer:          issuer,
		Pipeline:        pipeline,
		Orphans:         orphans,
		Keys:            NewKeyGenerator(),
		MaxFiles:        opts.MaxFiles,
		MaxFileSize:     opts.MaxFileSize,
		BlobTimeout:     opts.BlobTimeout,
		MetadataTimeout: opts.MetadataTimeout,
		newID:           uuid.NewString,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// AddAttachments stores files as new attachments of documentID and returns
// them with signed URLs in submission order.
func (m *Manager) AddAttachments(ctx context.Context, documentID, uploaderID string, files []Upload) ([]Added, error) {
	start := time.Now()
	if err := m.validate(documentID, uploaderID, files); err != nil {
		return nil, err
	}

	if _, err := m.loadDocument(ctx, documentID); err != nil {
		return nil, err
	}

	keys := make([]string, len(files))
	for i, f := range files {
		keyCtx, cancel := withTimeout(ctx, m.BlobTimeout)
		key, err := m.Keys.Next(keyCtx, m.Blobs, f.Name)
		cancel()
		if err != nil {
			return nil, &UpstreamError{Op: "generate_key", DocumentID: documentID, Err: err}
		}
		keys[i] = key
	}

	if err := m.putAll(ctx, documentID, files, keys); err != nil {
		metrics.IncAttachmentBatchFailed()
		return nil, err
	}

	now := m.now()
	atts := make([]documents.Attachment, len(files))
	for i, f := range files {
		atts[i] = documents.Attachment{
			ID:          m.newID(),
			OwnerUserID: uploaderID,
			BlobKey:     keys[i],
			Title:       strings.TrimSpace(f.Name),
			MimeType:    contentTypeFor(f),
			SizeBytes:   f.Size,
			CreatedAt:   now,
		}
	}

	appendCtx, cancel := withTimeout(ctx, m.MetadataTimeout)
	err := m.Repo.AppendAttachments(appendCtx, documentID, atts)
	cancel()
	if err != nil {
		// The append may have committed despite the error, so the blobs are
		// left in place and reported instead of deleted.
		m.Orphans.Report(ctx, newOrphanEvent(ctx, queue.KindOrphanBlob, documentID,
			"metadata append failed: "+err.Error(), attachmentIDs(atts), keys))
		metrics.IncAttachmentBatchFailed()
		return nil, &UpstreamError{Op: "append_attachments", DocumentID: documentID, BlobKeys: keys, Err: err}
	}

	report, err := m.Pipeline.Run(ctx, documentID, atts)
	if err != nil {
		telemetry.Error("attachments.full_text_write_failed", map[string]any{
			"document_id": documentID,
			"request_id":  requestIDFromContext(ctx),
			"error":       err,
		})
	}

	links := m.Issuer.SignAll(ctx, atts)
	out := make([]Added, len(atts))
	for i, a := range atts {
		out[i] = Added{Attachment: a, SignedURL: links[i].URL, Err: links[i].Err}
	}

	metrics.AddAttachmentsAdded(len(atts))
	metrics.ObserveAddBatchDurationMs(metrics.SinceMillis(start))
	telemetry.Info("attachments.added", map[string]any{
		"document_id":        documentID,
		"user_id":            uploaderID,
		"request_id":         requestIDFromContext(ctx),
		"blob_keys":          keys,
		"extracted":          report.Extracted,
		"extraction_skipped": report.Skipped,
		"extraction_failed":  report.Failed,
	})
	return out, nil
}

func (m *Manager) validate(documentID, uploaderID string, files []Upload) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(uploaderID) == "" {
		return fmt.Errorf("%w: uploader is required", ErrInvalidInput)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}
	if len(files) > m.MaxFiles {
		return fmt.Errorf("%w: at most %d files per request", ErrInvalidInput, m.MaxFiles)
	}
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: file name is required", ErrInvalidInput)
		}
		if f.Size <= 0 {
			return fmt.Errorf("%w: %s is empty", ErrInvalidInput, f.Name)
		}
		if f.Size > m.MaxFileSize {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, f.Name, m.MaxFileSize)
		}
		if f.Open == nil {
			return fmt.Errorf("%w: %s has no content", ErrInvalidInput, f.Name)
		}
	}
	return nil
}

// putAll writes every file in parallel. On any failure it deletes every key
// it attempted, reports keys it could not delete, and returns the first error.
func (m *Manager) putAll(ctx context.Context, documentID string, files []Upload, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(files))

	var mu sync.Mutex
	attempted := make([]string, 0, len(files))
	failed := make([]string, 0, 1)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			attempted = append(attempted, keys[i])
			mu.Unlock()

			if err := m.putOne(gctx, f, keys[i]); err != nil {
				mu.Lock()
				failed = append(failed, keys[i])
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return nil
	}

	m.compensate(ctx, documentID, attempted)
	return &UpstreamError{Op: "put_blob", DocumentID: documentID, BlobKeys: failed, Err: err}
}

func (m *Manager) putOne(ctx context.Context, f Upload, key string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	putCtx, cancel := withTimeout(ctx, m.BlobTimeout)
	defer cancel()
	return m.Blobs.Put(putCtx, key, contentTypeFor(f), rc, f.Size)
}

// compensate deletes keys best-effort on a context detached from the caller.
func (m *Manager) compensate(ctx context.Context, documentID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	leftover := make([]string, 0)
	for _, key := range keys {
		delCtx, cancel := withTimeout(base, m.BlobTimeout)
		err := m.Blobs.Delete(delCtx, key)
		cancel()
		if err != nil {
			telemetry.Error("attachments.compensating_delete_failed", map[string]any{
				"document_id": documentID,
				"blob_key":    key,
				"error":       err,
			})
			leftover = append(leftover, key)
		}
	}
	if len(leftover) > 0 {
		m.Orphans.Report(ctx, newOrphanEvent(ctx, queue.KindOrphanBlob, documentID,
			"compensating delete failed", nil, leftover))
	}
}

// RemoveAttachment deletes the blob and then the metadata entry. A blob delete
// failure leaves the attachment intact.
func (m *Manager) RemoveAttachment(ctx context.Context, documentID, attachmentID string, who auth.Identity) error {
	if strings.TrimSpace(documentID) == "" || strings.TrimSpace(attachmentID) == "" {
		return fmt.Errorf("%w: document and attachment ids are required", ErrInvalidInput)
	}

	doc, err := m.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}
	att, ok := doc.FindAttachment(attachmentID)
	if !ok {
		return documents.ErrAttachmentNotFound
	}
	if !CanRemove(who, att) {
		telemetry.Warn("attachments.remove_forbidden", map[string]any{
			"document_id":   documentID,
			"attachment_id": attachmentID,
			"user_id":       who.UserID,
			"request_id":    requestIDFromContext(ctx),
		})
		return ErrForbidden
	}

	delCtx, cancel := withTimeout(ctx, m.BlobTimeout)
	err = m.Blobs.Delete(delCtx, att.BlobKey)
	cancel()
	if err != nil {
		return &UpstreamError{Op: "delete_blob", DocumentID: documentID, BlobKeys: []string{att.BlobKey}, Err: err}
	}

	metaCtx, cancel := withTimeout(ctx, m.MetadataTimeout)
	err = m.Repo.RemoveAttachment(metaCtx, documentID, attachmentID)
	cancel()
	if err != nil && !errors.Is(err, documents.ErrAttachmentNotFound) {
		m.Orphans.Report(ctx, newOrphanEvent(ctx, queue.KindOrphanMetadata, documentID,
			"metadata remove failed: "+err.Error(), []string{attachmentID}, []string{att.BlobKey}))
		return &UpstreamError{Op: "remove_attachment", DocumentID: documentID, BlobKeys: []string{att.BlobKey}, Err: err}
	}

	metrics.IncAttachmentsRemoved()
	telemetry.Info("attachments.removed", map[string]any{
		"document_id":   documentID,
		"attachment_id": attachmentID,
		"blob_key":      att.BlobKey,
		"user_id":       who.UserID,
		"request_id":    requestIDFromContext(ctx),
	})
	return nil
}

// SignedURLs issues a fresh URL for every live attachment of documentID.
func (m *Manager) SignedURLs(ctx context.Context, documentID string) ([]documents.SignedLink, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	doc, err := m.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return m.Issuer.SignAll(ctx, doc.Attachments), nil
}

func (m *Manager) loadDocument(ctx context.Context, documentID string) (documents.Document, error) {
	loadCtx, cancel := withTimeout(ctx, m.MetadataTimeout)
	defer cancel()
	doc, err := m.Repo.GetByID(loadCtx, documentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return documents.Document{}, err
		}
		return documents.Document{}, &UpstreamError{Op: "load_document", DocumentID: documentID, Err: err}
	}
	return doc, nil
}

func contentTypeFor(f Upload) string {
	ct := strings.TrimSpace(f.ContentType)
	if ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func attachmentIDs(atts []documents.Attachment) []string {
	ids := make([]string, len(atts))
	for i, a := range atts {
		ids[i] = a.ID
	}
	return ids
}

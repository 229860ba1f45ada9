package attachments

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/extract"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/telemetry"
)

// ExtractFunc turns a payload into plain text.
type ExtractFunc func(ctx context.Context, data []byte, mimeType, fileName string) (string, error)

// ExtractionReport summarises one pipeline run.
type ExtractionReport struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Pipeline re-reads newly stored attachments, extracts their text in parallel
// and merges the results into the document's full text in attachment order.
type Pipeline struct {
	Blobs           blob.Store
	Repo            documents.Repo
	Extract         ExtractFunc
	Limit           int
	MaxBytes        int64
	BlobTimeout     time.Duration
	MetadataTimeout time.Duration
}

// NewPipeline constructs a Pipeline using the built-in extractors.
func NewPipeline(blobs blob.Store, repo documents.Repo) *Pipeline {
	return &Pipeline{
		Blobs:   blobs,
		Repo:    repo,
		Extract: extract.ExtractTextFromBytes,
		Limit:   defaultMaxFiles,
	}
}

// Run extracts text for atts and records it with a single SetAttachmentTexts,
// which rebuilds the full text in attachment insertion order. Per-file
// failures are logged and contribute nothing. The returned error is only the
// final metadata write.
func (p *Pipeline) Run(ctx context.Context, documentID string, atts []documents.Attachment) (ExtractionReport, error) {
	texts := make([]string, len(atts))
	outcome := make([]int, len(atts)) // 0 skipped, 1 extracted, 2 failed

	limit := p.Limit
	if limit <= 0 || limit > len(atts) {
		limit = len(atts)
	}
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	for i, a := range atts {
		i, a := i, a
		if !extract.IsExtractable(a.MimeType, a.Title) {
			continue
		}
		g.Go(func() error {
			text, err := p.extractOne(ctx, a)
			if err != nil {
				outcome[i] = 2
				metrics.IncExtractionFailed()
				telemetry.Warn("attachments.extraction_failed", map[string]any{
					"document_id":   documentID,
					"attachment_id": a.ID,
					"blob_key":      a.BlobKey,
					"request_id":    requestIDFromContext(ctx),
					"error":         &ExtractionError{AttachmentID: a.ID, BlobKey: a.BlobKey, Err: err},
				})
				return nil
			}
			outcome[i] = 1
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()

	var report ExtractionReport
	byID := make(map[string]string, len(texts))
	for i, text := range texts {
		switch outcome[i] {
		case 1:
			report.Extracted++
		case 2:
			report.Failed++
		default:
			report.Skipped++
		}
		if text != "" {
			byID[atts[i].ID] = text
		}
	}
	if len(byID) == 0 {
		return report, nil
	}

	writeCtx, cancel := withTimeout(ctx, p.MetadataTimeout)
	defer cancel()
	if err := p.Repo.SetAttachmentTexts(writeCtx, documentID, byID); err != nil {
		return report, fmt.Errorf("set attachment texts: %w", err)
	}
	return report, nil
}

func (p *Pipeline) extractOne(ctx context.Context, a documents.Attachment) (string, error) {
	readCtx, cancel := withTimeout(ctx, p.BlobTimeout)
	defer cancel()

	rc, err := p.Blobs.Open(readCtx, a.BlobKey)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if p.MaxBytes > 0 {
		r = io.LimitReader(rc, p.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	if p.MaxBytes > 0 && int64(len(data)) > p.MaxBytes {
		return "", fmt.Errorf("blob exceeds %d bytes", p.MaxBytes)
	}

	text, err := p.Extract(ctx, data, a.MimeType, a.Title)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/queue"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/storage/blob"
	"docvault-backend/internal/shared/telemetry"
)

const defaultStepTimeout = 10 * time.Second

// Outcome summarizes what a sweep changed.
type Outcome struct {
	BlobsDeleted       int
	AttachmentsRemoved int
	Kept               int
}

// Sweeper settles orphan events: blobs nobody references are deleted and
// attachment rows whose blob is gone are dropped. Every step re-checks the
// current state, so replaying an event is harmless.
type Sweeper struct {
	Repo    documents.Repo
	Blobs   blob.Store
	Timeout time.Duration
}

// Handle reconciles ev. Failed keys are joined into the returned error so
// the event can be redelivered; keys already settled are skipped on retry.
func (s *Sweeper) Handle(ctx context.Context, ev queue.OrphanEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	var (
		out  Outcome
		errs []error
	)
	for _, key := range ev.BlobKeys {
		var err error
		switch ev.Kind {
		case queue.KindOrphanBlob:
			err = s.sweepBlob(ctx, key, &out)
		case queue.KindOrphanMetadata:
			err = s.sweepMetadata(ctx, key, &out)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, err))
		}
	}

	fields := map[string]any{
		"kind":                ev.Kind,
		"document_id":         ev.DocumentID,
		"request_id":          ev.RequestID,
		"blobs_deleted":       out.BlobsDeleted,
		"attachments_removed": out.AttachmentsRemoved,
		"kept":                out.Kept,
	}
	if len(errs) > 0 {
		fields["error"] = errors.Join(errs...)
		telemetry.Error("reconcile.sweep_failed", fields)
		return out, errors.Join(errs...)
	}
	telemetry.Info("reconcile.swept", fields)
	return out, nil
}

// sweepBlob deletes key unless an attachment still points at it. A metadata
// write that failed from the caller's view may still have committed.
func (s *Sweeper) sweepBlob(ctx context.Context, key string, out *Outcome) error {
	lookupCtx, cancel := s.step(ctx)
	_, _, err := s.Repo.FindByBlobKey(lookupCtx, key)
	cancel()
	switch {
	case err == nil:
		out.Kept++
		return nil
	case !errors.Is(err, documents.ErrAttachmentNotFound):
		return fmt.Errorf("lookup: %w", err)
	}

	delCtx, cancel := s.step(ctx)
	defer cancel()
	if err := s.Blobs.Delete(delCtx, key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	out.BlobsDeleted++
	metrics.IncOrphansReconciled()
	return nil
}

// sweepMetadata drops the attachment referencing key when its blob is gone.
func (s *Sweeper) sweepMetadata(ctx context.Context, key string, out *Outcome) error {
	statCtx, cancel := s.step(ctx)
	exists, err := s.Blobs.Exists(statCtx, key)
	cancel()
	if err != nil {
		return fmt.Errorf("stat blob: %w", err)
	}
	if exists {
		out.Kept++
		return nil
	}

	lookupCtx, cancel := s.step(ctx)
	doc, att, err := s.Repo.FindByBlobKey(lookupCtx, key)
	cancel()
	if errors.Is(err, documents.ErrAttachmentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	rmCtx, cancel := s.step(ctx)
	defer cancel()
	err = s.Repo.RemoveAttachment(rmCtx, doc.ID, att.ID)
	if err != nil && !errors.Is(err, documents.ErrAttachmentNotFound) && !errors.Is(err, documents.ErrNotFound) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	if err == nil {
		out.AttachmentsRemoved++
		metrics.IncOrphansReconciled()
	}
	return nil
}

func (s *Sweeper) step(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.Timeout
	if d <= 0 {
		d = defaultStepTimeout
	}
	return context.WithTimeout(ctx, d)
}

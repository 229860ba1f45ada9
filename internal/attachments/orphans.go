package attachments

import (
	"context"
	"time"

	"docvault-backend/internal/queue"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/telemetry"
)

// OrphanSink receives blob/metadata inconsistencies for later reconciliation.
// Report must not block the caller on delivery failure.
type OrphanSink interface {
	Report(ctx context.Context, ev queue.OrphanEvent)
}

// LogSink writes orphan events to the structured log only.
type LogSink struct{}

// Report logs ev.
func (LogSink) Report(_ context.Context, ev queue.OrphanEvent) {
	metrics.IncOrphanEvents()
	telemetry.Error("attachments.orphan_detected", map[string]any{
		"kind":           ev.Kind,
		"document_id":    ev.DocumentID,
		"attachment_ids": ev.AttachmentIDs,
		"blob_keys":      ev.BlobKeys,
		"reason":         ev.Reason,
		"request_id":     ev.RequestID,
	})
}

// QueueSink logs each event and publishes it to a queue for the worker's
// reconciliation sweep.
type QueueSink struct {
	Client  queue.Client
	Timeout time.Duration
}

// Report logs ev and publishes it. Publish failures are logged; the event is
// still in the log for manual sweep.
func (s QueueSink) Report(ctx context.Context, ev queue.OrphanEvent) {
	LogSink{}.Report(ctx, ev)

	pubCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()
	if err := s.Client.Send(pubCtx, ev); err != nil {
		metrics.IncOrphanPublishFailed()
		telemetry.Error("attachments.orphan_publish_failed", map[string]any{
			"kind":        ev.Kind,
			"document_id": ev.DocumentID,
			"blob_keys":   ev.BlobKeys,
			"error":       err,
		})
	}
}

func newOrphanEvent(ctx context.Context, kind, documentID, reason string, attachmentIDs, keys []string) queue.OrphanEvent {
	return queue.OrphanEvent{
		Kind:          kind,
		DocumentID:    documentID,
		AttachmentIDs: attachmentIDs,
		BlobKeys:      keys,
		Reason:        reason,
		RequestID:     requestIDFromContext(ctx),
		DetectedAt:    time.Now().UTC(),
		Version:       queue.EventVersion,
	}
}

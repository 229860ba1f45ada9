package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	attachmentsAddedTotal     atomic.Uint64
	attachmentsRemovedTotal   atomic.Uint64
	attachmentBatchesFailed   atomic.Uint64
	orphanEventsTotal         atomic.Uint64
	orphanEventsPublishFailed atomic.Uint64
	orphansReconciledTotal    atomic.Uint64
	extractionFailedTotal     atomic.Uint64
	presignFailedTotal        atomic.Uint64
	workerMessagesReceived    atomic.Uint64
	workerMessagesDropped     atomic.Uint64
	workerMessagesFailed      atomic.Uint64

	addBatchDuration = newHistogram([]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000})
)

// AddAttachmentsAdded counts attachments committed to metadata.
func AddAttachmentsAdded(n int) {
	if n > 0 {
		attachmentsAddedTotal.Add(uint64(n))
	}
}

// IncAttachmentsRemoved counts attachments removed.
func IncAttachmentsRemoved() {
	attachmentsRemovedTotal.Add(1)
}

// IncAttachmentBatchFailed counts upload batches that returned an upstream error.
func IncAttachmentBatchFailed() {
	attachmentBatchesFailed.Add(1)
}

// IncOrphanEvents counts orphan events detected.
func IncOrphanEvents() {
	orphanEventsTotal.Add(1)
}

// IncOrphanPublishFailed counts orphan events that could not be published.
func IncOrphanPublishFailed() {
	orphanEventsPublishFailed.Add(1)
}

// IncOrphansReconciled counts orphan blobs or attachment rows settled by the worker.
func IncOrphansReconciled() {
	orphansReconciledTotal.Add(1)
}

// IncExtractionFailed counts per-attachment extraction failures.
func IncExtractionFailed() {
	extractionFailedTotal.Add(1)
}

// IncPresignFailed counts per-attachment presign failures.
func IncPresignFailed() {
	presignFailedTotal.Add(1)
}

// IncWorkerMessagesReceived counts queue messages picked up by the worker.
func IncWorkerMessagesReceived() {
	workerMessagesReceived.Add(1)
}

// IncWorkerMessagesDropped counts unrecoverable messages deleted without processing.
func IncWorkerMessagesDropped() {
	workerMessagesDropped.Add(1)
}

// IncWorkerMessagesFailed counts messages left for redelivery after a failed sweep.
func IncWorkerMessagesFailed() {
	workerMessagesFailed.Add(1)
}

// ObserveAddBatchDurationMs records an upload batch duration in milliseconds.
func ObserveAddBatchDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	addBatchDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "attachments_added_total", "Attachments committed to metadata", attachmentsAddedTotal.Load())
	writeCounter(&buf, "attachments_removed_total", "Attachments removed", attachmentsRemovedTotal.Load())
	writeCounter(&buf, "attachment_batches_failed_total", "Upload batches failed with an upstream error", attachmentBatchesFailed.Load())
	writeCounter(&buf, "orphan_events_total", "Orphan blobs or metadata detected", orphanEventsTotal.Load())
	writeCounter(&buf, "orphan_events_publish_failed_total", "Orphan events not delivered to the queue", orphanEventsPublishFailed.Load())
	writeCounter(&buf, "orphans_reconciled_total", "Orphans settled by the worker", orphansReconciledTotal.Load())
	writeCounter(&buf, "worker_messages_received_total", "Queue messages received by the worker", workerMessagesReceived.Load())
	writeCounter(&buf, "worker_messages_dropped_total", "Unrecoverable queue messages deleted", workerMessagesDropped.Load())
	writeCounter(&buf, "worker_messages_failed_total", "Queue messages left for redelivery", workerMessagesFailed.Load())
	writeCounter(&buf, "extraction_failed_total", "Attachment text extractions failed", extractionFailedTotal.Load())
	writeCounter(&buf, "presign_failed_total", "Signed URL generations failed", presignFailedTotal.Load())
	writeHistogram(&buf, "attachment_batch_duration_ms", "Upload batch duration in milliseconds", addBatchDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe places value in the first bucket whose bound it does not exceed.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

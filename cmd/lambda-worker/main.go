package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"docvault-backend/internal/bootstrap"
	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/telemetry"
	"docvault-backend/internal/workerproc"
)

// sweeperRuntime builds the sweeper once per execution environment.
type sweeperRuntime struct {
	once  sync.Once
	build func() (workerproc.Reconciler, error)
	r     workerproc.Reconciler
	err   error
}

// handle hands every record back to SQS while bootstrap is failing, so
// nothing is lost before the redrive policy takes over.
func (s *sweeperRuntime) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	s.once.Do(func() {
		s.r, s.err = s.build()
		if s.err != nil {
			telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": s.err})
		}
	})
	if s.err != nil {
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}
	return handleBatch(ctx, s.r, event), nil
}

// handleBatch reports sweep failures back to SQS for redelivery. Unrecoverable
// records are acknowledged so they do not cycle until the redrive limit.
func handleBatch(ctx context.Context, r workerproc.Reconciler, event events.SQSEvent) events.SQSEventResponse {
	var failures []events.SQSBatchItemFailure
	for _, record := range event.Records {
		metrics.IncWorkerMessagesReceived()
		fields := map[string]any{"sqs_message_id": record.MessageId}

		ev, meta, err := workerproc.ParseMessage(record.Body)
		if err != nil {
			fields["body_len"] = meta.BodyLen
			fields["error"] = err
			telemetry.Error("worker.orphan.unrecoverable", fields)
			metrics.IncWorkerMessagesDropped()
			continue
		}
		fields["kind"] = ev.Kind
		fields["document_id"] = ev.DocumentID

		out, err := workerproc.HandleMessage(workerproc.WithParsedEvent(ctx, ev), r, record.Body)
		if err != nil {
			fields["error"] = err
			telemetry.Error("worker.orphan.failed", fields)
			metrics.IncWorkerMessagesFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		fields["blobs_deleted"] = out.BlobsDeleted
		fields["attachments_removed"] = out.AttachmentsRemoved
		telemetry.Info("worker.orphan.completed", fields)
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func buildSweeper() (workerproc.Reconciler, error) {
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	return app.Sweeper, nil
}

func main() {
	rt := &sweeperRuntime{build: buildSweeper}
	lambda.Start(rt.handle)
}

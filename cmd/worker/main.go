package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docvault-backend/internal/bootstrap"
	"docvault-backend/internal/queue"
	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/metrics"
	"docvault-backend/internal/shared/telemetry"
	"docvault-backend/internal/workerproc"
)

const (
	defaultSQSRegion          = "us-east-1"
	defaultVisibilitySeconds  = 300
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
	defaultKafkaGroup         = "docvault-reconciler"
	kafkaAttempts             = 3
	kafkaRetryDelay           = 2 * time.Second
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	switch cfg.OrphanSink {
	case "sqs":
		runSQS(ctx, cfg, app)
	case "kafka":
		runKafka(ctx, cfg, app)
	default:
		log.Fatal("worker requires ORPHAN_SINK=sqs or ORPHAN_SINK=kafka")
	}
}

func runSQS(ctx context.Context, cfg config.Config, app *bootstrap.App) {
	queueURL := strings.TrimSpace(cfg.OrphanQueueURL)
	if queueURL == "" {
		log.Fatal("ORPHAN_SQS_QUEUE_URL is required")
	}

	visibilitySeconds := envInt("WORKER_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("WORKER_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := cfg.AWSRegion
	if region == "" {
		region = defaultSQSRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncWorkerMessagesReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, sqsClient, queueURL, app.Sweeper, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight sweeps", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight sweeps")
	}
}

func runKafka(ctx context.Context, cfg config.Config, app *bootstrap.App) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	group := strings.TrimSpace(os.Getenv("ORPHAN_KAFKA_GROUP"))
	if group == "" {
		group = defaultKafkaGroup
	}

	consumer := queue.NewKafkaConsumer(cfg.KafkaBrokers, cfg.OrphanTopic, group)
	defer consumer.Close()

	log.Printf("worker started topic=%s group=%s", cfg.OrphanTopic, group)
	err := consumer.Run(ctx, func(ctx context.Context, body []byte) error {
		metrics.IncWorkerMessagesReceived()
		return handleRecord(ctx, app.Sweeper, string(body), kafkaRetryDelay)
	}, func(err error) {
		telemetry.Error("worker.orphan.kafka_error", map[string]any{"error": err.Error()})
	})
	if err != nil {
		log.Printf("kafka consumer stopped: %v", err)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// handleMessage deletes the message once it is reconciled or found
// unrecoverable. Failed sweeps stay on the queue for redelivery.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, r workerproc.Reconciler, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	ev, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, ev)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.orphan.unrecoverable", fields)
		if deleteMessage(ctx, client, queueURL, msg, ev) {
			metrics.IncWorkerMessagesDropped()
		}
		return
	}

	telemetry.Info("worker.orphan.received", baseFields(msg, ev))

	out, err := workerproc.HandleMessage(workerproc.WithParsedEvent(ctx, ev), r, body)
	if err != nil {
		fields := baseFields(msg, ev)
		fields["error"] = err.Error()
		telemetry.Error("worker.orphan.failed", fields)
		metrics.IncWorkerMessagesFailed()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, ev) {
		fields := baseFields(msg, ev)
		fields["blobs_deleted"] = out.BlobsDeleted
		fields["attachments_removed"] = out.AttachmentsRemoved
		telemetry.Info("worker.orphan.completed", fields)
	}
}

// handleRecord processes one Kafka record. Unrecoverable payloads are
// acknowledged; sweep failures are retried in place since the consumer
// commits later offsets past them.
func handleRecord(ctx context.Context, r workerproc.Reconciler, body string, delay time.Duration) error {
	var err error
	for attempt := 1; attempt <= kafkaAttempts; attempt++ {
		_, err = workerproc.HandleMessage(ctx, r, body)
		if err == nil {
			return nil
		}
		if workerproc.Unrecoverable(err) {
			meta := workerproc.ComputeMeta(body)
			telemetry.Error("worker.orphan.unrecoverable", map[string]any{
				"body_len":    meta.BodyLen,
				"body_sha256": meta.BodySHA,
				"error":       err.Error(),
			})
			metrics.IncWorkerMessagesDropped()
			return nil
		}
		telemetry.Warn("worker.orphan.retry", map[string]any{"attempt": attempt, "error": err.Error()})
		if attempt == kafkaAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	metrics.IncWorkerMessagesFailed()
	return err
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, ev queue.OrphanEvent) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, ev)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.orphan.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, ev)
		fields["error"] = err.Error()
		telemetry.Error("worker.orphan.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, ev queue.OrphanEvent) map[string]any {
	fields := map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if ev.Kind != "" {
		fields["kind"] = ev.Kind
	}
	if ev.DocumentID != "" {
		fields["document_id"] = ev.DocumentID
	}
	if strings.TrimSpace(ev.RequestID) != "" {
		fields["request_id"] = ev.RequestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

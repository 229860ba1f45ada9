package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docvault-backend/internal/shared/util"
)

const defaultSQSRegion = "us-east-1"

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient publishes orphan events to an SQS queue. FIFO queues get one
// message group per document so sweeps for a document run in order.
type SQSClient struct {
	client   sqsSender
	queueURL string
	fifo     bool
}

// NewSQSClient loads the default AWS config for region and targets queueURL.
func NewSQSClient(ctx context.Context, region, queueURL string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("ORPHAN_SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultSQSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSClient(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSClient(client sqsSender, queueURL string) *SQSClient {
	return &SQSClient{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send encodes ev and sends it with kind/version message attributes.
func (s *SQSClient) Send(ctx context.Context, ev OrphanEvent) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode orphan event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(ev.Kind)},
			"version": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(EventVersion)),
			},
		},
	}
	if s.fifo {
		group := ev.DocumentID
		if group == "" {
			group = ev.Kind
		}
		input.MessageGroupId = aws.String(group)
		input.MessageDeduplicationId = aws.String(util.SHA256Hex(payload))
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs send kind=%s document_id=%s: %w", ev.Kind, ev.DocumentID, err)
	}
	return nil
}

var _ Client = (*SQSClient)(nil)

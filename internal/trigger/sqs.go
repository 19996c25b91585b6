package trigger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"videojobs/internal/domain"
)

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue consumes an SQS queue fed by S3 event notifications. Redelivery
// and dead-lettering follow the queue's redrive policy.
type SQSQueue struct {
	api               SQSAPI
	queueURL          string
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	// NackBackoff is the base delay before a nacked message is visible again;
	// it grows linearly with the receive count.
	NackBackoff time.Duration
}

func NewSQSQueue(api SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{
		api:               api,
		queueURL:          queueURL,
		MaxMessages:       10,
		WaitTimeSeconds:   20,
		VisibilityTimeout: 300,
		NackBackoff:       10 * time.Second,
	}
}

func (q *SQSQueue) Receive(ctx context.Context) ([]*Delivery, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         q.MaxMessages,
		WaitTimeSeconds:             q.WaitTimeSeconds,
		VisibilityTimeout:           q.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqs receive: %w", domain.Transient(err))
	}

	deliveries := make([]*Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		receipt := aws.ToString(msg.ReceiptHandle)
		attempts, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if attempts == 0 {
			attempts = 1
		}
		deliveries = append(deliveries, newDelivery(
			aws.ToString(msg.MessageId),
			[]byte(aws.ToString(msg.Body)),
			attempts,
			func(ctx context.Context) error { return q.delete(ctx, receipt) },
			func(ctx context.Context) error { return q.release(ctx, receipt, attempts) },
		))
	}
	return deliveries, nil
}

func (q *SQSQueue) Publish(ctx context.Context, body []byte) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", domain.Transient(err))
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receipt string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", domain.Transient(err))
	}
	return nil
}

func (q *SQSQueue) release(ctx context.Context, receipt string, attempts int) error {
	delay := q.NackBackoff * time.Duration(attempts)
	if limit := 12 * time.Hour; delay > limit {
		delay = limit
	}
	_, err := q.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", domain.Transient(err))
	}
	return nil
}

var _ Queue = (*SQSQueue)(nil)

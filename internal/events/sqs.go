package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/ligai/pkg/logging"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes every event envelope to one queue.
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
	timeout  time.Duration
	logger   *logging.Logger
	wg       sync.WaitGroup
}

func NewSQSNotifier(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSNotifier {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSNotifier(client, queueURL, logger)
}

func newSQSNotifier(client sqsAPI, queueURL string, logger *logging.Logger) *SQSNotifier {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSNotifier{client: client, queueURL: queueURL, timeout: 5 * time.Second, logger: logger}
}

func (q *SQSNotifier) Emit(ctx context.Context, name Name, data map[string]any) {
	body, err := json.Marshal(newEnvelope(name, data))
	if err != nil {
		q.logger.Error("encoding event failed", "event", string(name), "error", err)
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		defer cancel()
		_, err := q.client.SendMessage(sendCtx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(q.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event": {DataType: aws.String("String"), StringValue: aws.String(string(name))},
			},
		})
		if err != nil {
			q.logger.Error("publishing event to SQS failed", "event", string(name), "error", err)
		}
	}()
}

// Wait blocks until queued sends finish.
func (q *SQSNotifier) Wait() {
	q.wg.Wait()
}

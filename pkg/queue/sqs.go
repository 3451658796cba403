package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/devicehub/sdk-go/pkg/events"
)

// Long polling cannot wait longer than this.
const MaxWaitSeconds = 20

// Message attribute some publishers use to carry the notification subject.
const attributeSubject = "Subject"

var ErrNoReceiptHandle = errors.New("envelope has no receipt handle")

// SQSAPI is the part of the SQS client the source uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS is an event source backed by an SQS queue subscribed to the platform topic.
type SQS struct {
	client      SQSAPI
	queueURL    string
	waitSeconds int32
}

func NewSQS(client SQSAPI, queueURL string, waitSeconds int32) *SQS {
	return &SQS{
		client:      client,
		queueURL:    queueURL,
		waitSeconds: min(max(waitSeconds, 0), MaxWaitSeconds),
	}
}

// LoadSQS builds a source using the default AWS credential chain.
func LoadSQS(ctx context.Context, queueURL string, waitSeconds int32) (*SQS, error) {
	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewSQS(sqs.NewFromConfig(cfg), queueURL, waitSeconds), nil
}

// Receive long-polls for up to max messages.
func (s *SQS) Receive(ctx context.Context, limit int) ([]events.Envelope, error) {
	if limit < 1 || limit > 10 {
		limit = 10
	}

	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     s.waitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameSentTimestamp,
		},
		MessageAttributeNames: []string{attributeSubject},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", s.queueURL, err)
	}

	envs := make([]events.Envelope, 0, len(out.Messages))
	for _, message := range out.Messages {
		envs = append(envs, toEnvelope(message))
	}
	return envs, nil
}

// Ack deletes a processed message from the queue.
func (s *SQS) Ack(ctx context.Context, env events.Envelope) error {
	if env.ReceiptHandle == "" {
		return fmt.Errorf("%w: message %s", ErrNoReceiptHandle, env.MessageID)
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(env.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", env.MessageID, err)
	}
	return nil
}

func toEnvelope(message types.Message) events.Envelope {
	env := events.Envelope{
		MessageID:     aws.ToString(message.MessageId),
		ReceiptHandle: aws.ToString(message.ReceiptHandle),
		Message:       aws.ToString(message.Body),
		Attributes:    make(map[string]string, len(message.Attributes)),
	}
	for k, v := range message.Attributes {
		env.Attributes[k] = v
	}
	if attr, ok := message.MessageAttributes[attributeSubject]; ok {
		env.Subject = aws.ToString(attr.StringValue)
	}
	return env
}

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/devicehub/sdk-go/pkg/events"
)

type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive stores undecodable messages in S3 so they can be inspected and replayed.
type Archive struct {
	client s3Putter
	bucket string
	prefix string
	now    func() time.Time
}

// ArchivedMessage is the object written for each failed message.
type ArchivedMessage struct {
	MessageID  string          `json:"message_id"`
	Error      string          `json:"error"`
	ArchivedAt time.Time       `json:"archived_at"`
	Envelope   events.Envelope `json:"envelope"`
}

func LoadArchive(ctx context.Context, bucket string, prefix string) (*Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewArchive(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewArchive(client s3Putter, bucket string, prefix string) *Archive {
	return &Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Key is where a message is stored, partitioned by the day it was sent.
func (a *Archive) Key(env events.Envelope) string {
	day, err := env.SentTimestamp()
	if err != nil {
		day = a.now().UTC()
	}
	return path.Join(a.prefix, day.Format("2006/01/02"), env.MessageID+".json")
}

// HandleDecodeError writes the raw message to the bucket.
func (a *Archive) HandleDecodeError(ctx context.Context, env events.Envelope, decodeErr error) error {
	message := ArchivedMessage{
		MessageID:  env.MessageID,
		ArchivedAt: a.now().UTC(),
		Envelope:   env,
	}
	if decodeErr != nil {
		message.Error = decodeErr.Error()
	}
	message.Envelope.ReceiptHandle = ""

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	key := a.Key(env)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s to s3://%s/%s: %w", env.MessageID, a.bucket, key, err)
	}
	return nil
}

package sink

import (
	"context"
	"errors"

	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/twmb/franz-go/pkg/kgo"
)

type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes every event to a topic, keyed by device so a device's events stay ordered.
type Kafka struct {
	client kafkaProducer
	topic  string
}

func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	return kgo.NewClient(kgo.SeedBrokers(brokers...))
}

func NewKafka(client kafkaProducer, topic string) *Kafka {
	return &Kafka{client: client, topic: topic}
}

func (k *Kafka) Handle(ctx context.Context, event events.Event) error {
	envelope := NewEventEnvelope(event)
	b, err := envelope.Marshal()
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(envelope.Device),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "tag", Value: []byte(envelope.Tag)},
		},
	}

	result := k.client.ProduceSync(ctx, record)

	return result.FirstErr()
}

package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/devicehub/sdk-go/pkg/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

type rabbitPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Rabbit publishes every event to a topic exchange with the event tag as routing key.
type Rabbit struct {
	channel  rabbitPublisher
	exchange string
}

func NewRabbitChannel(url string) (*amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	return conn.Channel()
}

// DeclareExchange declares the durable topic exchange events are published to.
func DeclareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", name, err)
	}
	return nil
}

func NewRabbit(channel rabbitPublisher, exchange string) *Rabbit {
	return &Rabbit{channel: channel, exchange: exchange}
}

func (r *Rabbit) Handle(ctx context.Context, event events.Event) error {
	envelope := NewEventEnvelope(event)
	b, err := envelope.Marshal()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.channel.PublishWithContext(ctx,
		r.exchange,   // exchange
		envelope.Tag, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.ID,
			Timestamp:    time.Now(),
			AppId:        "devicehub.listen",
			Body:         b,
		})
}

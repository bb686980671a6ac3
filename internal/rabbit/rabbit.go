// Package rabbit carries outbox messages over a RabbitMQ topic exchange.
package rabbit

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/outbox"
	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange          = "campus.events"
	NotificationQueue = "campus.notifications"
	bookingKeys       = "booking.*"
)

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	return conn, nil
}

type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

// Publish routes msg by its topic. The outbox id doubles as the message id
// so consumers can spot redeliveries.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx, Exchange, msg.Topic, false, false, amqp.Publishing{
		MessageId:    fmt.Sprintf("outbox-%d", msg.ID),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.CreatedAt,
		Body:         msg.Payload,
	})
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// HandlerFunc processes one delivery. A non-nil error dead-letters it.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares queue, binds it to every booking topic and limits
// unacknowledged deliveries to prefetch.
func NewConsumer(conn *amqp.Connection, queue string, prefetch int, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, bookingKeys, Exchange, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue, logger: logger.WithField("queue", queue)}, nil
}

// Consume blocks until ctx is cancelled or the channel closes.
func (c *Consumer) Consume(ctx context.Context, handle HandlerFunc) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			log := c.logger.WithField("routing_key", d.RoutingKey).WithField("message_id", d.MessageId)
			if err := handle(ctx, d.RoutingKey, d.Body); err != nil {
				log.WithError(err).Error("message rejected")
				d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				log.WithError(err).Warn("ack failed")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}

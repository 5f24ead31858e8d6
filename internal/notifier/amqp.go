package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ukydev/fleet-simulator/internal/models"
)

// DefaultExchange is the fanout exchange notifications are published on.
const DefaultExchange = "fleet.notifications"

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes notifications as persistent JSON messages.
type AMQPPublisher struct {
	ch       publishChannel
	exchange string
	now      func() time.Time
}

// Dial connects to a RabbitMQ broker.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

// NewAMQPPublisher opens a channel on conn and declares a durable fanout
// exchange.
func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return newAMQPPublisher(ch, exchange), nil
}

func newAMQPPublisher(ch publishChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *AMQPPublisher) Notify(ctx context.Context, plate, message string) error {
	now := p.now().UTC()
	body, err := json.Marshal(models.Notification{PlateNumber: plate, Message: message, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	})
}

// Close closes the channel.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

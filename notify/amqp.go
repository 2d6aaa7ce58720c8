/*
amqp.go - RabbitMQ-backed Dispatcher

PURPOSE:
  Production delivery: publishes messages as JSON to a topic exchange,
  routing key "notify.<recipient-class>". Downstream consumers (mail,
  push, in-app feeds) bind their own queues; this engine only publishes.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDispatcher publishes notifications to a RabbitMQ topic exchange.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

type amqpMessage struct {
	Recipient RecipientClass    `json:"recipient"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Payload   map[string]string `json:"payload,omitempty"`
}

func NewAMQPDispatcher(url, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPDispatcher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (d *AMQPDispatcher) Send(ctx context.Context, recipient RecipientClass, title, body string, payload map[string]string) error {
	b, err := json.Marshal(amqpMessage{Recipient: recipient, Title: title, Body: body, Payload: payload})
	if err != nil {
		return err
	}
	return d.ch.PublishWithContext(ctx, d.exchange, "notify."+string(recipient), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        b,
	})
}

func (d *AMQPDispatcher) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

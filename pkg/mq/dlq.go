package mq

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// DLQExchangeFor returns the dead letter exchange name for a routing key.
func DLQExchangeFor(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQQueue declares and binds a dead letter queue for a routing key.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	exchange := DLQExchangeFor(routingKey)
	if err := DeclareExchange(ch, exchange); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		exchange+".q",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}

// PublishToDLQ publishes a message to the dead letter exchange of routingKey.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, errorType string) error {
	headers := amqp091.Table{
		"x-original-error": originalError,
		"x-error-type":     errorType,
		"x-failed-at":      "notifyhub",
	}
	return p.PublishRaw(ctx, DLQExchangeFor(routingKey), routingKey, payload, headers)
}

package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPQueue publishes to a durable RabbitMQ queue through the default exchange.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
}

// NewAMQPQueue dials url and declares the queue.
func NewAMQPQueue(url, name string) (*AMQPQueue, error) {
	if name == "" {
		name = DefaultName
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, name: name}, nil
}

// Publish sends a persistent message; the event type travels in the Type property.
func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	return q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msg.Type,
		Body:         msg.Body,
	})
}

// Consume acknowledges each delivery once it has been handed to the caller.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Message, error) {
	if err := q.ch.Qos(50, 0, false); err != nil {
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- Message{Type: d.Type, Body: d.Body}:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Healthy reports whether the broker connection is open.
func (q *AMQPQueue) Healthy() bool {
	return q != nil && q.conn != nil && !q.conn.IsClosed()
}

// Close closes the channel and connection.
func (q *AMQPQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}

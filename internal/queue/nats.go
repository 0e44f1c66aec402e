package queue

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const typeHeader = "Event-Type"

// NATSQueue publishes messages on a NATS subject.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
}

// NewNATSQueue connects to url.
func NewNATSQueue(url, subject string) (*NATSQueue, error) {
	if subject == "" {
		subject = DefaultName
	}
	nc, err := nats.Connect(url, nats.Name("smartlocker"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSQueue{conn: nc, subject: subject}, nil
}

// NewNATSQueueFromConn wraps an existing connection.
func NewNATSQueueFromConn(nc *nats.Conn, subject string) *NATSQueue {
	if subject == "" {
		subject = DefaultName
	}
	return &NATSQueue{conn: nc, subject: subject}
}

// Publish sends msg with its type in a header.
func (q *NATSQueue) Publish(_ context.Context, msg Message) error {
	m := nats.NewMsg(q.subject)
	m.Header.Set(typeHeader, msg.Type)
	m.Data = msg.Body
	return q.conn.PublishMsg(m)
}

// Consume subscribes to the subject until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanSubscribe(q.subject, in)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case m := <-in:
				msg := Message{Type: m.Header.Get(typeHeader), Body: m.Data}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Healthy reports whether the connection is established.
func (q *NATSQueue) Healthy() bool {
	return q != nil && q.conn != nil && q.conn.IsConnected()
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}

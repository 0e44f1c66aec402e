package queue

import (
	"context"
	"fmt"

	"smartlocker/internal/store"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendAMQP   = "amqp"
	BackendNATS   = "nats"
)

// Options selects and addresses a broker.
type Options struct {
	Backend    string
	Name       string
	RedisAddr  string
	AMQPURL    string
	NATSURL    string
	MemorySize int
}

// Conn is an opened queue together with its health check and cleanup.
type Conn struct {
	Queue
	Backend string
	healthy func(ctx context.Context) bool
	close   func() error
}

// Healthy reports whether the broker is reachable.
func (c *Conn) Healthy(ctx context.Context) bool {
	if c == nil || c.healthy == nil {
		return false
	}
	return c.healthy(ctx)
}

// Close releases the broker connection.
func (c *Conn) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	return c.close()
}

// Open connects to the configured backend.
func Open(o Options) (*Conn, error) {
	switch o.Backend {
	case "", BackendMemory:
		size := o.MemorySize
		if size <= 0 {
			size = 256
		}
		return &Conn{
			Queue:   NewInMemory(size),
			Backend: BackendMemory,
			healthy: func(context.Context) bool { return true },
		}, nil
	case BackendRedis:
		r := store.NewRedis(o.RedisAddr)
		return &Conn{Queue: NewRedisQueue(r.Client, o.Name), Backend: o.Backend, healthy: r.Healthy, close: r.Close}, nil
	case BackendAMQP:
		q, err := NewAMQPQueue(o.AMQPURL, o.Name)
		if err != nil {
			return nil, err
		}
		return &Conn{Queue: q, Backend: o.Backend, healthy: func(context.Context) bool { return q.Healthy() }, close: q.Close}, nil
	case BackendNATS:
		q, err := NewNATSQueue(o.NATSURL, o.Name)
		if err != nil {
			return nil, err
		}
		return &Conn{Queue: q, Backend: o.Backend, healthy: func(context.Context) bool { return q.Healthy() }, close: q.Close}, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", o.Backend)
	}
}

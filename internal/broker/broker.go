// Package broker owns the RabbitMQ connection lifecycle, the ingestion queue
// topology, and publishing with optional publisher confirms.
package broker

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when no channel is available. Callers may
	// retry via Connect.
	ErrNotConnected = errors.New("broker not connected")

	// ErrConnectTimeout is returned to a caller that waited on another
	// caller's in-flight connection attempt for longer than the configured
	// bound.
	ErrConnectTimeout = errors.New("timed out waiting for broker connection")

	// ErrDeliveryFailed is returned when a publish exhausts its retry budget
	// without the broker accepting the message.
	ErrDeliveryFailed = errors.New("message delivery failed")
)

// Connection abstracts the transport-level AMQP connection so the manager's
// state machine can be exercised without a live broker.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Channel is the subset of an AMQP channel the manager, publisher, and
// consumer use.
type Channel interface {
	QueueDeclare(name string, durable bool, args amqp.Table) (amqp.Queue, error)
	Confirm() error
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
	Consume(queue, consumer string) (<-chan amqp.Delivery, error)
	Qos(prefetch int) error
	Close() error
}

// Confirmation resolves once the broker accepts or rejects a published
// message.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Dialer opens a transport connection. Manager uses Dial unless a test
// injects its own.
type Dialer func(url string) (Connection, error)

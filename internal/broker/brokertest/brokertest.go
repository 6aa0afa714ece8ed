// Package brokertest provides an in-memory AMQP transport fake so the
// connection manager, publisher, and consumer can be tested without a broker.
package brokertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apipulse/apipulse/internal/broker"
)

// Dialer hands out fake connections and counts dial attempts.
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn

	// Err, when set, makes every dial fail.
	Err error
	// Delay is applied before each dial resolves, to widen race windows in
	// concurrency tests.
	Delay time.Duration
	// NewChan builds the channel a fake connection returns. Defaults to a
	// plain NewChan().
	NewChan func() *Chan

	dials atomic.Int32
}

// Dial satisfies broker.Dialer.
func (d *Dialer) Dial(string) (broker.Connection, error) {
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}
	d.dials.Add(1)
	if d.Err != nil {
		return nil, d.Err
	}

	newChan := d.NewChan
	if newChan == nil {
		newChan = NewChan
	}
	conn := &Conn{newChan: newChan}

	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// Dials reports how many dial attempts were made.
func (d *Dialer) Dials() int {
	return int(d.dials.Load())
}

// LastConn returns the most recently dialed connection, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is a fake transport connection.
type Conn struct {
	newChan func() *Chan

	// ChannelErr, when set, makes Channel fail.
	ChannelErr error
	// CloseErr is returned from Close.
	CloseErr error

	mu       sync.Mutex
	channels []*Chan
	notify   []chan *amqp.Error
	closed   bool
}

func (c *Conn) Channel() (broker.Channel, error) {
	if c.ChannelErr != nil {
		return nil, c.ChannelErr
	}
	ch := c.newChan()
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	c.notify = append(c.notify, receiver)
	c.mu.Unlock()
	return receiver
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.CloseErr
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ReportClose simulates an unsolicited transport close or error event.
func (c *Conn) ReportClose(err *amqp.Error) {
	c.mu.Lock()
	receivers := append([]chan *amqp.Error(nil), c.notify...)
	c.mu.Unlock()
	for _, r := range receivers {
		r <- err
		close(r)
	}
}

// Declaration records one QueueDeclare call.
type Declaration struct {
	Name    string
	Durable bool
	Args    amqp.Table
}

// Chan is a fake AMQP channel recording declarations and publishes.
type Chan struct {
	// DeclareErr maps queue names to declaration failures.
	DeclareErr map[string]error
	// PublishErrs is consumed one per publish; nil entries mean success.
	// When exhausted, publishes succeed.
	PublishErrs []error
	// Ack controls whether confirmations resolve as acknowledged.
	Ack bool
	// ConsumeErr, when set, makes Consume fail.
	ConsumeErr error
	// Deliveries is the stream handed out by Consume.
	Deliveries chan amqp.Delivery

	mu        sync.Mutex
	declared  []Declaration
	published []amqp.Publishing
	confirm   bool
	closed    bool
}

// NewChan returns a fake channel that acknowledges confirmed publishes.
func NewChan() *Chan {
	return &Chan{Ack: true, Deliveries: make(chan amqp.Delivery, 16)}
}

func (c *Chan) QueueDeclare(name string, durable bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	c.declared = append(c.declared, Declaration{Name: name, Durable: durable, Args: args})
	c.mu.Unlock()
	if err := c.DeclareErr[name]; err != nil {
		return amqp.Queue{}, err
	}
	return amqp.Queue{Name: name}, nil
}

func (c *Chan) Confirm() error {
	c.mu.Lock()
	c.confirm = true
	c.mu.Unlock()
	return nil
}

func (c *Chan) Publish(_ context.Context, _, _ string, msg amqp.Publishing) error {
	return c.record(msg)
}

func (c *Chan) PublishWithConfirm(_ context.Context, _, _ string, msg amqp.Publishing) (broker.Confirmation, error) {
	if err := c.record(msg); err != nil {
		return nil, err
	}
	return confirmation{acked: c.Ack}, nil
}

func (c *Chan) record(msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	if len(c.PublishErrs) > 0 {
		err := c.PublishErrs[0]
		c.PublishErrs = c.PublishErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Chan) Consume(string, string) (<-chan amqp.Delivery, error) {
	if c.ConsumeErr != nil {
		return nil, c.ConsumeErr
	}
	return c.Deliveries, nil
}

func (c *Chan) Qos(int) error { return nil }

func (c *Chan) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Declared returns the recorded QueueDeclare calls in order.
func (c *Chan) Declared() []Declaration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Declaration(nil), c.declared...)
}

// Published returns the recorded publishes in order.
func (c *Chan) Published() []amqp.Publishing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]amqp.Publishing(nil), c.published...)
}

// ConfirmEnabled reports whether Confirm was called.
func (c *Chan) ConfirmEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirm
}

type confirmation struct {
	acked bool
}

func (c confirmation) WaitContext(context.Context) (bool, error) {
	return c.acked, nil
}

// Acknowledger records acks and nacks for fabricated deliveries.
type Acknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
}

func (a *Acknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *Acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *Acknowledger) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	return nil
}

// Acks reports how many deliveries were acknowledged.
func (a *Acknowledger) Acks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks
}

// Nacks reports how many deliveries were negatively acknowledged.
func (a *Acknowledger) Nacks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nacks
}

// Requeued reports the requeue flag of each nack in order.
func (a *Acknowledger) Requeued() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.requeue...)
}

var (
	_ broker.Connection = (*Conn)(nil)
	_ broker.Channel    = (*Chan)(nil)
	_ amqp.Acknowledger = (*Acknowledger)(nil)
)

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apipulse/apipulse/internal/config"
)

// State is the manager's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Manager owns the broker connection and its single shared channel. It
// serializes connection attempts: while one caller is connecting, concurrent
// callers wait for that attempt to resolve instead of dialing again. On
// success the ingestion topology is declared before the manager reports
// ready. Unsolicited transport closes reset the manager to disconnected; the
// next Connect call re-establishes everything.
type Manager struct {
	cfg  config.BrokerConfig
	dial Dialer

	mu      sync.Mutex
	state   State
	conn    Connection
	ch      Channel
	attempt chan struct{} // closed when the in-flight connect resolves
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// NewManager creates a disconnected Manager. No I/O happens until Connect.
func NewManager(cfg config.BrokerConfig, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, dial: Dial}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect returns the shared channel, establishing the connection and
// declaring the queue topology on first use. Exactly one connection attempt
// is in flight at a time; a caller arriving during another caller's attempt
// waits for it, bounded by the configured connect timeout. Every error
// leaves the manager disconnected and retryable.
func (m *Manager) Connect(ctx context.Context) (Channel, error) {
	m.mu.Lock()

	if m.state == StateReady {
		ch := m.ch
		m.mu.Unlock()
		return ch, nil
	}

	if m.state == StateConnecting {
		wait := m.attempt
		m.mu.Unlock()

		timer := time.NewTimer(m.cfg.ConnectTimeout)
		defer timer.Stop()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrConnectTimeout
		}

		m.mu.Lock()
		ch := m.ch
		m.mu.Unlock()
		if ch == nil {
			// The attempt we waited on failed; the caller may retry.
			return nil, ErrNotConnected
		}
		return ch, nil
	}

	m.state = StateConnecting
	attempt := make(chan struct{})
	m.attempt = attempt
	m.mu.Unlock()

	conn, ch, err := m.establish()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(attempt)

	if err != nil {
		m.state = StateDisconnected
		return nil, err
	}

	m.conn = conn
	m.ch = ch
	m.state = StateReady

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go m.watch(conn, closes)

	return ch, nil
}

func (m *Manager) establish() (Connection, Channel, error) {
	slog.Info("connecting to rabbitmq", "url", m.cfg.URL)

	conn, err := m.dial(m.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := m.declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	if m.cfg.PublisherConfirms {
		if err := ch.Confirm(); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
	}

	slog.Info("rabbitmq connected", "queue", m.cfg.Queue, "dlq", m.cfg.DLQName())
	return conn, ch, nil
}

// declareTopology declares the dead-letter queue first, then the primary
// queue with dead-letter routing pointing at it. Both queues are durable.
func (m *Manager) declareTopology(ch Channel) error {
	dlq := m.cfg.DLQName()

	if _, err := ch.QueueDeclare(dlq, true, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %s: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(m.cfg.Queue, true, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", m.cfg.Queue, err)
	}

	return nil
}

// watch resets the manager when the transport reports a close or error. The
// conn guard keeps a stale watcher from clobbering a newer connection.
func (m *Manager) watch(conn Connection, closes chan *amqp.Error) {
	err, ok := <-closes
	if ok && err != nil {
		slog.Error("rabbitmq connection lost", "error", err)
	} else {
		slog.Info("rabbitmq connection closed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
		m.ch = nil
		m.state = StateDisconnected
	}
}

// Channel returns the current channel without blocking, or ErrNotConnected.
func (m *Manager) Channel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return nil, ErrNotConnected
	}
	return m.ch, nil
}

// Ready reports whether both the connection and channel handles are present.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.ch != nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close shuts down the channel then the connection, tolerating either being
// absent. Close errors are logged, not returned.
func (m *Manager) Close() {
	m.mu.Lock()
	ch, conn := m.ch, m.conn
	m.ch = nil
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			slog.Error("close broker channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Error("close broker connection", "error", err)
		}
	}
}

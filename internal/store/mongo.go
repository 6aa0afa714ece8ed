package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/description"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/apipulse/apipulse/internal/config"
)

// Manager owns the MongoDB client lifecycle. Connect is idempotent: the
// first call dials and verifies the deployment, later calls return the same
// handle. Transport problems after the initial connect are logged by the
// registered server monitor; there is no automatic reconnect loop.
type Manager struct {
	cfg config.MongoConfig

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

// NewManager creates a disconnected Manager. No I/O happens until Connect.
func NewManager(cfg config.MongoConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Connect establishes the MongoDB connection on first use and returns the
// database handle. Connection failures are returned to the caller; the
// manager stays disconnected and a later call may retry.
func (m *Manager) Connect(ctx context.Context) (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	opts := options.Client().
		ApplyURI(m.cfg.URI).
		SetServerMonitor(serverMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m.client = client
	m.db = client.Database(m.cfg.Database)
	slog.Info("mongodb connected", "database", m.cfg.Database)
	return m.db, nil
}

// Disconnect tears down an active connection. It is a no-op when nothing is
// connected.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	client := m.client
	m.client = nil
	m.db = nil

	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	slog.Info("mongodb disconnected")
	return nil
}

// Database returns the current handle, or ErrNotConnected. Callers must
// treat the error as a precondition failure, not connect lazily.
func (m *Manager) Database() (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, readpref.Primary())
}

// serverMonitor logs transport-level failures and loss of all reachable
// servers without terminating the process.
func serverMonitor() *event.ServerMonitor {
	return &event.ServerMonitor{
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			slog.Error("mongodb heartbeat failed", "connection_id", e.ConnectionID, "error", e.Failure)
		},
		TopologyDescriptionChanged: func(e *event.TopologyDescriptionChangedEvent) {
			if hasReachableServer(e.PreviousDescription) && !hasReachableServer(e.NewDescription) {
				slog.Error("mongodb disconnected: no reachable servers")
			}
		},
	}
}

func hasReachableServer(topo description.Topology) bool {
	for _, s := range topo.Servers {
		// The zero ServerKind means the server is unreachable.
		if s.Kind != 0 {
			return true
		}
	}
	return false
}

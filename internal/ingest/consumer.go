// Package ingest consumes hit events from the ingestion queue and persists
// them. Messages that cannot be made valid by retrying are rejected without
// requeue so the queue's dead-letter policy captures them.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apipulse/apipulse/internal/broker"
	"github.com/apipulse/apipulse/internal/cache"
	"github.com/apipulse/apipulse/internal/config"
	"github.com/apipulse/apipulse/internal/store"
	"github.com/apipulse/apipulse/pkg/models"
)

const (
	consumerTag = "apipulse-ingest"
	prefetch    = 32

	// seenTTL bounds the dedup marker lifetime. The unique eventId index
	// backstops anything the cache forgets.
	seenTTL = 24 * time.Hour

	// reconnectDelay paces the consume loop when the broker is unavailable
	// or the delivery stream closes.
	reconnectDelay = 2 * time.Second
)

// Consumer drains the ingestion queue and writes hits to the store.
type Consumer struct {
	mgr   *broker.Manager
	store store.Store
	cache cache.Cache
	cfg   config.BrokerConfig
}

// NewConsumer creates a Consumer. It does not start consuming; call Run.
func NewConsumer(mgr *broker.Manager, st store.Store, c cache.Cache, cfg config.BrokerConfig) *Consumer {
	return &Consumer{mgr: mgr, store: st, cache: c, cfg: cfg}
}

// Run consumes until ctx is cancelled. Broker outages are absorbed by
// reconnecting; the loop only exits on context cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consumeOnce(ctx); err != nil {
			slog.Warn("consumer disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// consumeOnce establishes a consuming channel and drains deliveries until the
// stream closes or ctx is cancelled.
func (c *Consumer) consumeOnce(ctx context.Context) error {
	ch, err := c.mgr.Connect(ctx)
	if err != nil {
		return err
	}
	if err := ch.Qos(prefetch); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.cfg.Queue, consumerTag)
	if err != nil {
		return err
	}

	slog.Info("consuming hits", "queue", c.cfg.Queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return broker.ErrNotConnected
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. Malformed and invalid messages are rejected
// without requeue, which routes them to the dead-letter queue. Duplicates are
// acked as success so re-deliveries drain cleanly.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var hit models.Hit
	if err := json.Unmarshal(d.Body, &hit); err != nil {
		slog.Warn("rejecting malformed hit", "message_id", d.MessageId, "error", err)
		c.reject(d)
		return
	}

	if err := hit.Validate(); err != nil {
		slog.Warn("rejecting invalid hit", "event_id", hit.EventID, "error", err)
		c.reject(d)
		return
	}

	if seen, err := c.cache.SeenEvent(ctx, hit.EventID); err != nil {
		// Cache trouble is not fatal; the unique index still dedups.
		slog.Warn("dedup cache check failed", "event_id", hit.EventID, "error", err)
	} else if seen {
		slog.Debug("skipping already-processed hit", "event_id", hit.EventID)
		c.ack(d)
		return
	}

	if err := c.store.InsertHit(ctx, &hit); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			slog.Debug("hit already stored", "event_id", hit.EventID)
			c.ack(d)
			return
		}
		slog.Error("persist hit failed", "event_id", hit.EventID, "error", err)
		c.reject(d)
		return
	}

	if err := c.cache.MarkEvent(ctx, hit.EventID, seenTTL); err != nil {
		slog.Warn("mark event in dedup cache failed", "event_id", hit.EventID, "error", err)
	}
	c.ack(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		slog.Error("ack delivery", "message_id", d.MessageId, "error", err)
	}
}

// reject nacks without requeue so the dead-letter policy takes the message.
func (c *Consumer) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		slog.Error("nack delivery", "message_id", d.MessageId, "error", err)
	}
}

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/apipulse/apipulse/internal/config"
	"github.com/apipulse/apipulse/pkg/models"
)

// confirmTimeout bounds how long a single attempt waits for the broker to
// acknowledge a confirmed publish before the attempt counts as failed.
const confirmTimeout = 5 * time.Second

// Publisher publishes hit events to the primary queue with a bounded retry
// budget. With publisher confirms enabled, a publish only succeeds once the
// broker acknowledges receipt; exhausting the budget returns
// ErrDeliveryFailed to the producer.
type Publisher struct {
	mgr *Manager
	cfg config.BrokerConfig
}

// NewPublisher creates a Publisher on top of a connection manager.
func NewPublisher(mgr *Manager, cfg config.BrokerConfig) *Publisher {
	return &Publisher{mgr: mgr, cfg: cfg}
}

// PublishHit encodes and publishes one hit.
func (p *Publisher) PublishHit(ctx context.Context, hit *models.Hit) error {
	body, err := json.Marshal(hit)
	if err != nil {
		return fmt.Errorf("encode hit: %w", err)
	}
	return p.publish(ctx, body, hit.EventID)
}

func (p *Publisher) publish(ctx context.Context, body []byte, messageID string) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		ch, err := p.mgr.Connect(ctx)
		if err != nil {
			lastErr = err
			slog.Warn("publish: broker not ready", "attempt", attempt, "message_id", messageID, "error", err)
			continue
		}

		if err := p.attemptPublish(ctx, ch, msg); err != nil {
			lastErr = err
			slog.Warn("publish attempt failed", "attempt", attempt, "message_id", messageID, "error", err)
			continue
		}
		return nil
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, p.cfg.RetryAttempts, lastErr)
}

func (p *Publisher) attemptPublish(ctx context.Context, ch Channel, msg amqp.Publishing) error {
	if !p.cfg.PublisherConfirms {
		return ch.Publish(ctx, "", p.cfg.Queue, msg)
	}

	conf, err := ch.PublishWithConfirm(ctx, "", p.cfg.Queue, msg)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	acked, err := conf.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker did not acknowledge publish")
	}
	return nil
}

package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apipulse/apipulse/internal/broker"
	"github.com/apipulse/apipulse/internal/broker/brokertest"
	"github.com/apipulse/apipulse/pkg/models"
)

func testHit() *models.Hit {
	return &models.Hit{
		EventID:     "e1",
		Timestamp:   time.Now().UTC(),
		ServiceName: "payments",
		Endpoint:    "/v1/charges",
		Method:      "GET",
		StatusCode:  200,
		LatencyMs:   12,
		ClientID:    uuid.NewString(),
		APIKeyID:    uuid.NewString(),
		IP:          "10.0.0.7",
	}
}

func TestPublishHit_ConfirmedAndAcked(t *testing.T) {
	var created *brokertest.Chan
	dialer := &brokertest.Dialer{NewChan: func() *brokertest.Chan {
		created = brokertest.NewChan()
		return created
	}}
	cfg := testBrokerConfig()
	cfg.PublisherConfirms = true
	mgr := broker.NewManager(cfg, broker.WithDialer(dialer.Dial))
	pub := broker.NewPublisher(mgr, cfg)

	hit := testHit()
	require.NoError(t, pub.PublishHit(context.Background(), hit))

	published := created.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "application/json", published[0].ContentType)
	assert.Equal(t, "e1", published[0].MessageId)
	assert.EqualValues(t, 2, published[0].DeliveryMode, "persistent delivery")

	var decoded models.Hit
	require.NoError(t, json.Unmarshal(published[0].Body, &decoded))
	assert.Equal(t, hit.EventID, decoded.EventID)
	assert.Equal(t, hit.StatusCode, decoded.StatusCode)
}

func TestPublishHit_NeverAckedExhaustsRetries(t *testing.T) {
	var created *brokertest.Chan
	dialer := &brokertest.Dialer{NewChan: func() *brokertest.Chan {
		created = brokertest.NewChan()
		created.Ack = false // broker never acknowledges
		return created
	}}
	cfg := testBrokerConfig()
	cfg.PublisherConfirms = true
	cfg.RetryAttempts = 3
	cfg.RetryDelay = time.Millisecond
	mgr := broker.NewManager(cfg, broker.WithDialer(dialer.Dial))
	pub := broker.NewPublisher(mgr, cfg)

	err := pub.PublishHit(context.Background(), testHit())
	require.ErrorIs(t, err, broker.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Len(t, created.Published(), 3)
}

func TestPublishHit_RetriesThenSucceeds(t *testing.T) {
	var created *brokertest.Chan
	dialer := &brokertest.Dialer{NewChan: func() *brokertest.Chan {
		created = brokertest.NewChan()
		created.PublishErrs = []error{errors.New("channel flow blocked")}
		return created
	}}
	cfg := testBrokerConfig()
	mgr := broker.NewManager(cfg, broker.WithDialer(dialer.Dial))
	pub := broker.NewPublisher(mgr, cfg)

	require.NoError(t, pub.PublishHit(context.Background(), testHit()))
	assert.Len(t, created.Published(), 2, "first attempt failed, second succeeded")
}

func TestPublishHit_BrokerDownReportsDeliveryFailure(t *testing.T) {
	dialer := &brokertest.Dialer{Err: errors.New("connection refused")}
	cfg := testBrokerConfig()
	mgr := broker.NewManager(cfg, broker.WithDialer(dialer.Dial))
	pub := broker.NewPublisher(mgr, cfg)

	err := pub.PublishHit(context.Background(), testHit())
	require.ErrorIs(t, err, broker.ErrDeliveryFailed)
	assert.Equal(t, cfg.RetryAttempts, dialer.Dials(), "each attempt redials")
}

func TestPublishHit_ContextCancelledBetweenRetries(t *testing.T) {
	dialer := &brokertest.Dialer{Err: errors.New("connection refused")}
	cfg := testBrokerConfig()
	cfg.RetryDelay = time.Second
	mgr := broker.NewManager(cfg, broker.WithDialer(dialer.Dial))
	pub := broker.NewPublisher(mgr, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pub.PublishHit(ctx, testHit())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

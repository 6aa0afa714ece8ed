package config_test

import (
	"testing"
	"time"

	"github.com/apipulse/apipulse/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable config reads so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APIPULSE_PORT", "APIPULSE_ENV",
		"MONGO_URI", "MONGO_DB_NAME", "HIT_RETENTION",
		"RABBITMQ_URL", "RABBITMQ_QUEUE", "RABBITMQ_PUBLISHER_CONFIRMS",
		"RABBITMQ_RETRY_ATTEMPTS", "RABBITMQ_RETRY_DELAY_MS", "RABBITMQ_CONNECT_TIMEOUT",
		"REDIS_URL", "TOKEN_SECRET", "TOKEN_EXPIRY",
		"RATE_LIMIT_WINDOW", "RATE_LIMIT_MAX_REQUESTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "apipulse", cfg.Mongo.Database)
	assert.Equal(t, 30*24*time.Hour, cfg.Mongo.HitRetention)
	assert.Equal(t, "amqp://localhost:5672", cfg.Broker.URL)
	assert.Equal(t, "api_hits", cfg.Broker.Queue)
	assert.False(t, cfg.Broker.PublisherConfirms)
	assert.Equal(t, 3, cfg.Broker.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Broker.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Broker.ConnectTimeout)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 1000, cfg.RateLimit.MaxRequests)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APIPULSE_PORT", "8080")
	t.Setenv("RABBITMQ_QUEUE", "prod_hits")
	t.Setenv("RABBITMQ_PUBLISHER_CONFIRMS", "true")
	t.Setenv("RABBITMQ_RETRY_DELAY_MS", "250")
	t.Setenv("HIT_RETENTION", "168h")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "prod_hits", cfg.Broker.Queue)
	assert.True(t, cfg.Broker.PublisherConfirms)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.RetryDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Mongo.HitRetention)
}

func TestLoad_UnparsableFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("APIPULSE_PORT", "not-a-number")
	t.Setenv("RABBITMQ_PUBLISHER_CONFIRMS", "yes-please")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.False(t, cfg.Broker.PublisherConfirms)
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("APIPULSE_PORT", "70000")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APIPULSE_PORT")
}

func TestLoad_InvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APIPULSE_ENV", "staging")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APIPULSE_ENV")
}

func TestLoad_InvalidMongoURI(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "postgres://nope")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestLoad_InvalidBrokerURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("RABBITMQ_URL", "http://localhost:5672")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_URL")
}

func TestLoad_ZeroRetryAttempts(t *testing.T) {
	clearEnv(t)
	t.Setenv("RABBITMQ_RETRY_ATTEMPTS", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_RETRY_ATTEMPTS")
}

func TestLoad_ProductionRequiresExplicitSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APIPULSE_ENV", "production")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")

	t.Setenv("TOKEN_SECRET", "real-secret")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Server.Env)
}

func TestDLQName(t *testing.T) {
	b := config.BrokerConfig{Queue: "api_hits"}
	assert.Equal(t, "api_hits.dlq", b.DLQName())
}

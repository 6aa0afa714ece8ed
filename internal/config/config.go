package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the apipulse server. Every field is
// optional in the environment and falls back to the stated default; Load
// validates the merged result once at startup.
type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	Broker    BrokerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type MongoConfig struct {
	URI          string
	Database     string
	HitRetention time.Duration
}

type BrokerConfig struct {
	URL               string
	Queue             string
	PublisherConfirms bool
	RetryAttempts     int
	RetryDelay        time.Duration
	ConnectTimeout    time.Duration
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	TokenSecret string
	TokenExpiry time.Duration
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

var validEnvs = map[string]bool{
	"development": true,
	"production":  true,
	"test":        true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error naming the offending variable if any value is
// invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("APIPULSE_PORT", 5000),
			Env:  strings.ToLower(envString("APIPULSE_ENV", "development")),
		},
		Mongo: MongoConfig{
			URI:          envString("MONGO_URI", "mongodb://localhost:27017"),
			Database:     envString("MONGO_DB_NAME", "apipulse"),
			HitRetention: envDuration("HIT_RETENTION", 30*24*time.Hour),
		},
		Broker: BrokerConfig{
			URL:               envString("RABBITMQ_URL", "amqp://localhost:5672"),
			Queue:             envString("RABBITMQ_QUEUE", "api_hits"),
			PublisherConfirms: envBool("RABBITMQ_PUBLISHER_CONFIRMS", false),
			RetryAttempts:     envInt("RABBITMQ_RETRY_ATTEMPTS", 3),
			RetryDelay:        time.Duration(envInt("RABBITMQ_RETRY_DELAY_MS", 1000)) * time.Millisecond,
			ConnectTimeout:    envDuration("RABBITMQ_CONNECT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL: envString("REDIS_URL", "redis://localhost:6379"),
		},
		Auth: AuthConfig{
			TokenSecret: envString("TOKEN_SECRET", "dev-only-secret"),
			TokenExpiry: envDuration("TOKEN_EXPIRY", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Window:      envDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxRequests: envInt("RATE_LIMIT_MAX_REQUESTS", 1000),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("APIPULSE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !validEnvs[c.Server.Env] {
		return fmt.Errorf("APIPULSE_ENV must be one of development, production, test; got %q", c.Server.Env)
	}

	if !strings.HasPrefix(c.Mongo.URI, "mongodb://") && !strings.HasPrefix(c.Mongo.URI, "mongodb+srv://") {
		return fmt.Errorf("MONGO_URI must start with mongodb:// or mongodb+srv://, got %q", c.Mongo.URI)
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("MONGO_DB_NAME must not be empty")
	}
	if c.Mongo.HitRetention <= 0 {
		return fmt.Errorf("HIT_RETENTION must be positive, got %s", c.Mongo.HitRetention)
	}

	if !strings.HasPrefix(c.Broker.URL, "amqp://") && !strings.HasPrefix(c.Broker.URL, "amqps://") {
		return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.Broker.URL)
	}
	if c.Broker.Queue == "" {
		return fmt.Errorf("RABBITMQ_QUEUE must not be empty")
	}
	if c.Broker.RetryAttempts < 1 {
		return fmt.Errorf("RABBITMQ_RETRY_ATTEMPTS must be at least 1, got %d", c.Broker.RetryAttempts)
	}
	if c.Broker.RetryDelay < 0 {
		return fmt.Errorf("RABBITMQ_RETRY_DELAY_MS must not be negative")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("RABBITMQ_CONNECT_TIMEOUT must be positive, got %s", c.Broker.ConnectTimeout)
	}

	if c.Server.Env == "production" && c.Auth.TokenSecret == "dev-only-secret" {
		return fmt.Errorf("TOKEN_SECRET must be set explicitly in production")
	}
	if c.Auth.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be positive, got %s", c.Auth.TokenExpiry)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be at least 1, got %d", c.RateLimit.MaxRequests)
	}

	return nil
}

// DLQName returns the dead-letter queue name paired with the primary queue.
func (b BrokerConfig) DLQName() string {
	return b.Queue + ".dlq"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

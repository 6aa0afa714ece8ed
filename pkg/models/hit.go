package models

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// HTTP verbs accepted on a hit. Anything else is rejected before persistence.
var validMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"OPTIONS": true,
	"HEAD":    true,
}

// Hit is one observed API call. Hits are written exactly once by the queue
// consumer and never updated; the store expires them after the retention
// window via a TTL index.
type Hit struct {
	EventID     string    `bson:"eventId"             json:"event_id"`
	Timestamp   time.Time `bson:"timestamp"           json:"timestamp"`
	ServiceName string    `bson:"serviceName"         json:"service_name"`
	Endpoint    string    `bson:"endpoint"            json:"endpoint"`
	Method      string    `bson:"method"              json:"method"`
	StatusCode  int       `bson:"statusCode"          json:"status_code"`
	LatencyMs   int64     `bson:"latencyMs"           json:"latency_ms"`
	ClientID    string    `bson:"clientId"            json:"client_id"`
	APIKeyID    string    `bson:"apiKeyId"            json:"api_key_id"`
	IP          string    `bson:"ip"                  json:"ip"`
	UserAgent   string    `bson:"userAgent,omitempty" json:"user_agent,omitempty"`
}

// Validate checks every structural and semantic constraint on a hit.
// The returned error names the offending field so rejected messages can be
// diagnosed from the dead-letter queue.
func (h *Hit) Validate() error {
	if h.EventID == "" {
		return fmt.Errorf("event_id: is required")
	}
	if h.Timestamp.IsZero() {
		return fmt.Errorf("timestamp: is required")
	}
	if h.ServiceName == "" {
		return fmt.Errorf("service_name: is required")
	}
	if h.Endpoint == "" {
		return fmt.Errorf("endpoint: is required")
	}
	if !validMethods[h.Method] {
		return fmt.Errorf("method: %q is not a valid HTTP method", h.Method)
	}
	if h.StatusCode < 100 || h.StatusCode > 599 {
		return fmt.Errorf("status_code: %d is out of range", h.StatusCode)
	}
	if h.LatencyMs < 0 {
		return fmt.Errorf("latency_ms: must not be negative")
	}
	if h.ClientID == "" {
		return fmt.Errorf("client_id: is required")
	}
	if _, err := uuid.Parse(h.ClientID); err != nil {
		return fmt.Errorf("client_id: %q is not a valid UUID", h.ClientID)
	}
	if h.APIKeyID == "" {
		return fmt.Errorf("api_key_id: is required")
	}
	if _, err := uuid.Parse(h.APIKeyID); err != nil {
		return fmt.Errorf("api_key_id: %q is not a valid UUID", h.APIKeyID)
	}
	if h.IP == "" {
		return fmt.Errorf("ip: is required")
	}
	if net.ParseIP(h.IP) == nil {
		return fmt.Errorf("ip: %q is not a valid address", h.IP)
	}
	return nil
}

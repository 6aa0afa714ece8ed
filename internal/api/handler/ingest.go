package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	mw "github.com/apipulse/apipulse/internal/api/middleware"
	"github.com/apipulse/apipulse/internal/api/response"
	"github.com/apipulse/apipulse/internal/broker"
	"github.com/apipulse/apipulse/pkg/models"
)

// HitPublisher defines the interface the ingest handler depends on.
type HitPublisher interface {
	PublishHit(ctx context.Context, hit *models.Hit) error
}

// NewIngestHitHandler returns an http.HandlerFunc for POST /api/v1/hits.
// The handler validates, enqueues, and returns 202; persistence happens in
// the queue consumer.
func NewIngestHitHandler(pub HitPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := mw.GetClientID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
			return
		}
		apiKeyID, ok := mw.GetAPIKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing API key identity", nil)
			return
		}

		var req struct {
			EventID     string `json:"event_id"`
			Timestamp   string `json:"timestamp"`
			ServiceName string `json:"service_name"`
			Endpoint    string `json:"endpoint"`
			Method      string `json:"method"`
			StatusCode  int    `json:"status_code"`
			LatencyMs   int64  `json:"latency_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		// Callers may supply their own event_id for end-to-end idempotency;
		// otherwise one is minted here.
		eventID := req.EventID
		if eventID == "" {
			eventID = uuid.NewString()
		}

		ts := time.Now().UTC()
		if req.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339, req.Timestamp)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"timestamp must be a valid RFC3339 timestamp", nil)
				return
			}
			ts = parsed.UTC()
		}

		hit := &models.Hit{
			EventID:     eventID,
			Timestamp:   ts,
			ServiceName: req.ServiceName,
			Endpoint:    req.Endpoint,
			Method:      req.Method,
			StatusCode:  req.StatusCode,
			LatencyMs:   req.LatencyMs,
			ClientID:    clientID,
			APIKeyID:    apiKeyID,
			IP:          clientIP(r),
			UserAgent:   r.UserAgent(),
		}

		if err := hit.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}

		if err := pub.PublishHit(r.Context(), hit); err != nil {
			if errors.Is(err, broker.ErrDeliveryFailed) || errors.Is(err, broker.ErrNotConnected) {
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
					"Hit could not be enqueued, retry later", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, map[string]string{"event_id": eventID})
	}
}

// clientIP extracts the originating address, preferring X-Forwarded-For when
// the service runs behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, part := range strings.Split(fwd, ",") {
			part = strings.TrimSpace(part)
			if net.ParseIP(part) != nil {
				return part
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

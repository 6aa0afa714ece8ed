package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports the broker connection state.
type BrokerStatus interface {
	Ready() bool
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// The endpoint is public. Degraded dependencies are reported per-check with
// an overall 503; the process itself never fails a health probe.
func NewHealthHandler(store Pinger, cache Pinger, broker BrokerStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"mongodb":  "ok",
			"redis":    "ok",
			"rabbitmq": "ok",
		}
		healthy := true

		if err := store.Ping(ctx); err != nil {
			checks["mongodb"] = err.Error()
			healthy = false
		}
		if err := cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
		if !broker.Ready() {
			checks["rabbitmq"] = "not connected"
			healthy = false
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

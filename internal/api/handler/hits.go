package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	mw "github.com/apipulse/apipulse/internal/api/middleware"
	"github.com/apipulse/apipulse/internal/api/response"
	"github.com/apipulse/apipulse/internal/store"
	"github.com/apipulse/apipulse/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// HitReader defines the read interface the listing handler depends on.
type HitReader interface {
	ListHitsByClient(ctx context.Context, filter store.HitFilter) ([]*models.Hit, error)
}

// NewListHitsHandler returns an http.HandlerFunc for GET /api/v1/hits.
// Results are always scoped to the authenticated client.
func NewListHitsHandler(reader HitReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := mw.GetClientID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
			return
		}

		q := r.URL.Query()
		filter := store.HitFilter{
			ClientID:    clientID,
			ServiceName: q.Get("service"),
			Endpoint:    q.Get("endpoint"),
			Limit:       defaultListLimit,
		}

		if raw := q.Get("status"); raw != "" {
			code, err := strconv.Atoi(raw)
			if err != nil || code < 100 || code > 599 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be a valid HTTP status code", nil)
				return
			}
			filter.StatusCode = code
		}

		if raw := q.Get("from"); raw != "" {
			from, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"from must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.From = from
		}
		if raw := q.Get("to"); raw != "" {
			to, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"to must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.To = to
		}

		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			if limit > maxListLimit {
				limit = maxListLimit
			}
			filter.Limit = limit
		}

		hits, err := reader.ListHitsByClient(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if hits == nil {
			hits = []*models.Hit{}
		}

		response.Collection(w, hits, response.PaginationMeta{
			Page:    1,
			Limit:   filter.Limit,
			Total:   len(hits),
			HasNext: len(hits) == filter.Limit,
		})
	}
}

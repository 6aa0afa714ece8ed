package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/apipulse/apipulse/internal/api/middleware"
	"github.com/apipulse/apipulse/internal/store"
	"github.com/apipulse/apipulse/pkg/models"
)

type mockHitReader struct {
	filter store.HitFilter
	hits   []*models.Hit
	err    error
}

func (m *mockHitReader) ListHitsByClient(_ context.Context, filter store.HitFilter) ([]*models.Hit, error) {
	m.filter = filter
	return m.hits, m.err
}

func listReq(target, clientID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	return r.WithContext(mw.SetClientID(r.Context(), clientID))
}

func TestListHits_ScopedToClient(t *testing.T) {
	clientID := uuid.NewString()
	reader := &mockHitReader{hits: []*models.Hit{
		{EventID: uuid.NewString(), ClientID: clientID, ServiceName: "billing"},
	}}
	h := NewListHitsHandler(reader)

	rec := httptest.NewRecorder()
	h(rec, listReq("/api/v1/hits", clientID))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clientID, reader.filter.ClientID)
	assert.Equal(t, defaultListLimit, reader.filter.Limit)

	var env struct {
		Data []map[string]any `json:"data"`
		Meta map[string]any   `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 1)
	assert.EqualValues(t, 1, env.Meta["total"])
}

func TestListHits_QueryFilters(t *testing.T) {
	reader := &mockHitReader{}
	h := NewListHitsHandler(reader)

	target := "/api/v1/hits?service=billing&endpoint=/v1/invoices&status=500" +
		"&from=2026-08-01T00:00:00Z&to=2026-08-31T00:00:00Z&limit=25"
	rec := httptest.NewRecorder()
	h(rec, listReq(target, uuid.NewString()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "billing", reader.filter.ServiceName)
	assert.Equal(t, "/v1/invoices", reader.filter.Endpoint)
	assert.Equal(t, 500, reader.filter.StatusCode)
	assert.Equal(t, 25, reader.filter.Limit)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), reader.filter.From)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), reader.filter.To)
}

func TestListHits_LimitCapped(t *testing.T) {
	reader := &mockHitReader{}
	h := NewListHitsHandler(reader)

	rec := httptest.NewRecorder()
	h(rec, listReq("/api/v1/hits?limit=99999", uuid.NewString()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxListLimit, reader.filter.Limit)
}

func TestListHits_BadQueryParams(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"bad status", "/api/v1/hits?status=teapot"},
		{"status out of range", "/api/v1/hits?status=42"},
		{"bad from", "/api/v1/hits?from=lastweek"},
		{"bad to", "/api/v1/hits?to=tomorrow"},
		{"bad limit", "/api/v1/hits?limit=-3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewListHitsHandler(&mockHitReader{})
			rec := httptest.NewRecorder()
			h(rec, listReq(tc.target, uuid.NewString()))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))
		})
	}
}

func TestListHits_MissingClient(t *testing.T) {
	h := NewListHitsHandler(&mockHitReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hits", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListHits_EmptyResultIsArray(t *testing.T) {
	h := NewListHitsHandler(&mockHitReader{})

	rec := httptest.NewRecorder()
	h(rec, listReq("/api/v1/hits", uuid.NewString()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

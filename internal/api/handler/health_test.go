package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubBroker struct{ ready bool }

func (b stubBroker) Ready() bool { return b.ready }

func healthBody(t *testing.T, rec *httptest.ResponseRecorder) (string, map[string]any) {
	t.Helper()
	var body struct {
		Status string         `json:"status"`
		Checks map[string]any `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Status, body.Checks
}

func TestHealth_AllUp(t *testing.T) {
	h := NewHealthHandler(stubPinger{}, stubPinger{}, stubBroker{ready: true})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	status, checks := healthBody(t, rec)
	assert.Equal(t, "ok", status)
	assert.Equal(t, "ok", checks["mongodb"])
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "ok", checks["rabbitmq"])
}

func TestHealth_BrokerDownIsDegraded(t *testing.T) {
	h := NewHealthHandler(stubPinger{}, stubPinger{}, stubBroker{ready: false})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status, checks := healthBody(t, rec)
	assert.Equal(t, "degraded", status)
	assert.Equal(t, "not connected", checks["rabbitmq"])
	assert.Equal(t, "ok", checks["mongodb"])
}

func TestHealth_StoreDownIsDegraded(t *testing.T) {
	h := NewHealthHandler(
		stubPinger{err: errors.New("server selection timeout")},
		stubPinger{},
		stubBroker{ready: true},
	)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status, checks := healthBody(t, rec)
	assert.Equal(t, "degraded", status)
	assert.Contains(t, checks["mongodb"], "server selection timeout")
}

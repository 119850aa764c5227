package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/markout/internal/metrics"
)

func newTestServer() *Server {
	return NewServer(DefaultConfig(), metrics.New())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()
	s.AddCheck("data", func(ctx context.Context) error { return nil })
	s.AddCheck("database", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
		Checks map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "pass", resp.Checks["data"].Status)
	assert.Equal(t, "pass", resp.Checks["database"].Status)
}

func TestHealthEndpointFailingCheck(t *testing.T) {
	s := newTestServer()
	s.AddCheck("database", func(ctx context.Context) error { return errors.New("connection refused") })
	s.AddCheck("data", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "fail", resp.Checks["database"].Status)
	assert.Contains(t, resp.Checks["database"].Message, "connection refused")
	assert.Equal(t, "pass", resp.Checks["data"].Status)
}

func TestHealthEndpointNoChecks(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"checks":{}`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.New()
	reg.RecordWSEvent("aggTrade")
	s := NewServer(DefaultConfig(), reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "markout_ws_events_total")
	assert.Contains(t, body, `stream="aggTrade"`)
}

func TestStatsEndpoint(t *testing.T) {
	reg := metrics.New()
	reg.RecordLabel("return", 60_000)
	reg.RecordTrade("LONG")
	s := NewServer(DefaultConfig(), reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Counters map[string]float64 `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1.0, resp.Counters["markout_labels_emitted_total{horizon=60000,kind=return}"])
	assert.Equal(t, 1.0, resp.Counters["markout_backtest_trades_total{action=LONG}"])
}

func TestHealthRejectsPost(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

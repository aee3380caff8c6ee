package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/dispatch"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
)

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, o *order.Order) (order.Result, error) {
	return order.Executed(o, order.NewRequestID(), "ticket", o.Price), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()
	bus := events.NewBus()
	breaker := risk.NewCircuitBreaker(bus, log)
	riskMon, err := risk.NewMonitor(risk.DefaultLimits(), breaker, bus, log)
	require.NoError(t, err)

	tf := &config.TracksFile{Tracks: map[string]config.TrackConfig{
		"CRYPTO": {MaxConcurrent: 5, RequestsPerSecond: 100, QueueSize: 10, Workers: 2, TimeoutMS: 1000},
	}}
	dispatcher, err := dispatch.NewDispatcher(tf, riskMon, stubExecutor{}, nil, log)
	require.NoError(t, err)

	link := gateway.NewClient(gateway.Config{Addr: "127.0.0.1:1"}, log)
	hb := monitor.NewHeartbeat(link, time.Minute, 3, bus, log)

	store, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewServer(dispatcher, riskMon, hb, link, store, bus, testSecret, log)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func operatorToken(t *testing.T, operator string) string {
	t.Helper()
	token, err := GenerateOperatorToken(operator, testSecret, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return token
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "CRYPTO")
	assert.Contains(t, w.Body.String(), "DISCONNECTED")
	assert.Contains(t, w.Body.String(), "heartbeat")
}

func TestRiskEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/risk", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "breaker")
	assert.Contains(t, w.Body.String(), "limits")
}

func TestEngageDisengageRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, "ops-carol")

	// Mutating breaker endpoints are operator-only.
	w := doJSON(t, s, http.MethodPost, "/api/risk/engage", "",
		map[string]string{"reason": "maintenance window"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, s.RiskMon.IsSafe())

	w = doJSON(t, s, http.MethodPost, "/api/risk/engage", token,
		map[string]string{"reason": "maintenance window"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.RiskMon.IsSafe())
	assert.Contains(t, w.Body.String(), "maintenance window")

	w = doJSON(t, s, http.MethodPost, "/api/risk/disengage", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.RiskMon.IsSafe())
	assert.Contains(t, w.Body.String(), "ops-carol")

	// Disengaging a breaker that is not engaged is a conflict.
	w = doJSON(t, s, http.MethodPost, "/api/risk/disengage", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveOrderEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	stuck, err := order.New(order.AssetCrypto, "BTCUSDT", order.KindMarket, order.SideBuy, 1, 0)
	require.NoError(t, err)
	require.NoError(t, s.Store.RecordResult(ctx, stuck,
		order.Failed(stuck.ID, order.NewRequestID(), order.StatusProcessing, order.KindAmbiguous, "no response")))

	w := doJSON(t, s, http.MethodGet, "/api/orders/ambiguous", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), stuck.ID)

	token := operatorToken(t, "ops-dave")

	w = doJSON(t, s, http.MethodPost, "/api/orders/"+stuck.ID+"/resolve", "",
		map[string]string{"disposition": "confirmed unfilled"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/orders/"+stuck.ID+"/resolve", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "disposition is required")

	w = doJSON(t, s, http.MethodPost, "/api/orders/"+stuck.ID+"/resolve", token,
		map[string]string{"disposition": "confirmed unfilled"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops-dave")

	// The resolved order leaves the inquiry backlog.
	w = doJSON(t, s, http.MethodGet, "/api/orders/ambiguous", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), stuck.ID)

	w = doJSON(t, s, http.MethodPost, "/api/orders/"+stuck.ID+"/resolve", token,
		map[string]string{"disposition": "again"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

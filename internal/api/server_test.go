package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/firewall"
	"grimm.is/curfew/internal/identity"
	"grimm.is/curfew/internal/ledger"
	"grimm.is/curfew/internal/override"
	"grimm.is/curfew/internal/recon"
	"grimm.is/curfew/internal/state"
)

type staticSource struct {
	mock *clock.MockClock
	recs []identity.Record
}

func (s *staticSource) Read(ctx context.Context) ([]identity.Record, error) {
	out := make([]identity.Record, len(s.recs))
	for i, r := range s.recs {
		r.LastActive = s.mock.Now()
		out[i] = r
	}
	return out, nil
}

type testStack struct {
	server *Server
	engine *recon.Engine
	ledger *ledger.Ledger
	hub    *events.Hub
	mock   *clock.MockClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	mock := clock.NewMockClock(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))

	store, err := state.Open(state.Options{Path: ":memory:", Clock: mock})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := config.DefaultSettings()
	cfg := &config.Config{
		Settings: &settings,
		Profiles: []config.Profile{{
			Name:              "kids",
			DailyLimitMinutes: 60,
			Enabled:           true,
			Devices: []config.Device{
				{Name: "tablet", MAC: "aa:bb:cc:dd:ee:01", Enabled: true},
			},
		}},
	}

	hub := events.NewHub()
	src := &staticSource{mock: mock, recs: []identity.Record{
		{MAC: "aa:bb:cc:dd:ee:01", IP: netip.MustParseAddr("10.0.0.5")},
	}}
	resolver := identity.NewResolver(identity.Options{Source: src, Clock: mock})
	led := ledger.New(store, mock, nil)
	ovr := override.NewManager(store, mock, nil, hub)

	tables := firewall.NewTableStore(firewall.NewFakeConn(), firewall.DefaultTableConfig(), nil)
	require.NoError(t, tables.Init())

	engine := recon.New(recon.Options{
		Config: cfg, Resolver: resolver, Ledger: led, Overrides: ovr,
		Sync: firewall.NewSynchronizer(tables, nil, hub),
		Store: store, Hub: hub, Clock: mock,
	})

	server := NewServer(ServerOptions{
		Engine: engine, Ledger: led, Overrides: ovr, Store: store, Hub: hub,
	})
	return &testStack{server: server, engine: engine, ledger: led, hub: hub, mock: mock}
}

func (ts *testStack) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func TestStateEndpoint(t *testing.T) {
	ts := newTestStack(t)
	_, err := ts.engine.Tick(context.Background())
	require.NoError(t, err)

	w := ts.request(t, "GET", "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.LastTick)
	assert.Equal(t, 1, resp.LastTick.Online)
}

func TestUsageEndpoint(t *testing.T) {
	ts := newTestStack(t)
	require.NoError(t, ts.ledger.Accrue([]ledger.Sample{{Address: "10.0.0.5"}}, 25))
	_, err := ts.ledger.Aggregate(map[string][]string{"kids": {"10.0.0.5"}})
	require.NoError(t, err)

	w := ts.request(t, "GET", "/api/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp UsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Profiles, 1)
	assert.Equal(t, 25, resp.Profiles[0].UsageToday)
	assert.Equal(t, 35, resp.Profiles[0].Remaining)
}

func TestOverrideEndpoints(t *testing.T) {
	ts := newTestStack(t)

	w := ts.request(t, "POST", "/api/override", OverrideRequest{
		MAC: "AA:BB:CC:DD:EE:01", DurationMinutes: 20, Reason: "homework",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var ov state.Override
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ov))
	assert.Equal(t, "aa:bb:cc:dd:ee:01", ov.MAC)

	w = ts.request(t, "GET", "/api/overrides", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active map[string]state.Override
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Contains(t, active, "aa:bb:cc:dd:ee:01")

	w = ts.request(t, "DELETE", "/api/override/aa:bb:cc:dd:ee:01", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, "GET", "/api/overrides", nil)
	active = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Empty(t, active)
}

func TestOverrideValidation(t *testing.T) {
	ts := newTestStack(t)

	w := ts.request(t, "POST", "/api/override", OverrideRequest{MAC: "junk"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.request(t, "POST", "/api/override", OverrideRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	ts := newTestStack(t)

	w := ts.request(t, "POST", "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report recon.TickReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Online)
}

func TestResetEndpoint(t *testing.T) {
	ts := newTestStack(t)
	require.NoError(t, ts.ledger.Accrue([]ledger.Sample{{Address: "10.0.0.5"}}, 25))

	w := ts.request(t, "POST", "/api/reset", ResetRequest{Scope: "daily"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, "POST", "/api/reset", ResetRequest{Scope: "hourly"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestStack(t)
	w := ts.request(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventsWebsocket(t *testing.T) {
	ts := newTestStack(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?types=override.granted"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)

	ts.hub.Publish(events.Event{
		Type:   events.EventOverrideGranted,
		Source: "test",
		Data:   events.OverrideData{MAC: "aa:bb:cc:dd:ee:01"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.EventOverrideGranted, e.Type)
}

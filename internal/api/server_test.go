package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/backend/internal/breaker"
	"github.com/tradegate/backend/internal/config"
	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/cycle"
	"github.com/tradegate/backend/internal/gatekeeper"
	"github.com/tradegate/backend/internal/learner"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/ratelimit"
	"github.com/tradegate/backend/internal/registrar"
	"github.com/tradegate/backend/internal/registry"
	"github.com/tradegate/backend/internal/reviewlog"
	"github.com/tradegate/backend/internal/sources"
)

// A Monday, 16:00 UTC: inside the default trading session.
var testTime = time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

type fixture struct {
	server  *Server
	engine  *cycle.Engine
	breaker *breaker.Breaker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	review := reviewlog.NewMemoryStore()

	limiter := ratelimit.New(ratelimit.Policy{Window: time.Second, MaxCalls: 1000})
	inv := sources.NewInvoker(limiter, m)
	inv.SetClock(func() time.Time { return testTime }, func(ctx context.Context, d time.Duration) error { return nil })

	brk := breaker.New(breaker.NewMemoryStore(), cfg.Breaker.CapitalFloorRatio, m)

	reg := registry.New()
	registerMocks(t, reg, "ACME")

	r := registrar.New(reg, inv, brk, cfg.Acquisition, m)
	r.SetClock(func() time.Time { return testTime })

	livePrice := func(ctx context.Context, symbol string) (float64, error) { return 104, nil }
	gate := gatekeeper.New(cfg.Gate, cfg.Acquisition.StalenessHours, livePrice, review, m)
	gate.SetClock(func() time.Time { return testTime })

	l := learner.New(cfg.Learner, cfg.Gate, review)
	gate.UseTunables(l.Parameters())
	tracker := learner.NewOutcomeTracker(100_000)

	panel := cycle.StaticPanel{Advice: cycle.Advice{
		Proposal: core.TradeProposal{Symbol: "ACME", Direction: core.DirectionIncrease, Confidence: 0.8, Rationale: "test"},
		Scores:   core.ConsensusScores{A: 0.7, B: 0.6},
	}}
	engine := cycle.New(r, panel, gate, l, tracker, brk, review, m)
	engine.SetClock(func() time.Time { return testTime })

	server := NewServer(engine, brk, reg, l, review, promRegistry)
	return &fixture{server: server, engine: engine, breaker: brk}
}

func registerMocks(t *testing.T, reg *registry.Registry, symbol string) {
	t.Helper()
	closes := []float64{100, 100.5, 101, 101.5, 102, 102.5, 103, 103.3, 103.7, 104}
	bars := make([]core.PricePoint, len(closes))
	for i, c := range closes {
		bars[i] = core.PricePoint{
			Date: testTime.AddDate(0, 0, i-len(closes)+1),
			Open: c, High: c * 1.005, Low: c * 0.995, Close: c,
			Volume: 600_000,
		}
	}
	payloads := map[core.Capability]core.Payload{
		core.CapPriceSeries:  core.PriceSeries{Symbol: symbol, Bars: bars},
		core.CapFundamentals: core.Fundamentals{Symbol: symbol, ReportDate: testTime.Add(-10 * time.Hour), EPS: 1.9},
		core.CapNews: core.NewsDigest{Symbol: symbol, Items: []core.NewsItem{
			{Headline: "new contract win", PublishedAt: testTime.Add(-time.Hour), Sentiment: 0.3},
		}},
		core.CapOwnership: core.OwnershipActivity{Symbol: symbol, Transactions: []core.InsiderTransaction{
			{Insider: "B. Chen", Type: "buy", Shares: 200, Value: 21_000, Date: testTime.Add(-5 * time.Hour)},
		}},
	}
	for capability, payload := range payloads {
		ad := sources.NewMockAdapter("mock-"+string(capability), []core.Capability{capability}, sources.MockStep{Payload: payload})
		require.NoError(t, reg.Register(capability, ad, 1, sources.RetryPolicy{MaxAttempts: 1}, ratelimit.Policy{Window: time.Second, MaxCalls: 1000}))
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/cycle", "application/json", bytes.NewBufferString(`{"symbol":"ACME"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event cycle.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&event))
	assert.Equal(t, "ACME", event.Symbol)
	assert.NotEmpty(t, event.LedgerID)
	assert.NotEmpty(t, event.Decision.Result)

	// Ledger lookup round-trip.
	resp2, err := http.Get(ts.URL + "/api/ledger/" + event.LedgerID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	var record map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&record))
	assert.Equal(t, event.LedgerID, record["ledger_id"])
	assert.NotEmpty(t, record["content_hash"])
}

func TestRunCycleRejectsBadBody(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/cycle", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLedgerNotFound(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ledger/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOutcomeAndBreakerLifecycle(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	// A drawdown past the capital floor trips the breaker.
	body := `{"ledger_id":"led-1","result":"approved","pnl":-20000}`
	resp, err := http.Post(ts.URL+"/api/outcome", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "HALTED", out["verdict"])

	// While halted, cycle requests return 409.
	resp2, err := http.Post(ts.URL+"/api/cycle", "application/json", strings.NewReader(`{"symbol":"ACME"}`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	// Health reflects the halt.
	resp3, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&health))
	resp3.Body.Close()
	assert.Equal(t, "halted", health["status"])

	// Review log carries the trip.
	resp4, err := http.Get(ts.URL + "/api/review")
	require.NoError(t, err)
	var events []reviewlog.Event
	require.NoError(t, json.NewDecoder(resp4.Body).Decode(&events))
	resp4.Body.Close()
	found := false
	for _, e := range events {
		if e.Kind == reviewlog.KindBreakerTrip {
			found = true
		}
	}
	assert.True(t, found)

	// Explicit reset restores service.
	resp5, err := http.Post(ts.URL+"/api/breaker/reset", "application/json", nil)
	require.NoError(t, err)
	resp5.Body.Close()
	require.Equal(t, http.StatusOK, resp5.StatusCode)

	resp6, err := http.Post(ts.URL+"/api/cycle", "application/json", strings.NewReader(`{"symbol":"ACME"}`))
	require.NoError(t, err)
	resp6.Body.Close()
	assert.Equal(t, http.StatusOK, resp6.StatusCode)
}

func TestParamsEndpoints(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/params")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var params map[string]learner.Parameter
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&params))
	assert.Contains(t, params, learner.ParamConfidenceFloor)
	assert.Contains(t, params, learner.ParamDivergenceCeiling)

	resp2, err := http.Post(ts.URL+"/api/params/"+learner.ParamConfidenceFloor+"/unfreeze", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Post(ts.URL+"/api/params/bogus/unfreeze", "application/json", nil)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestSourcesEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sources")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sourcesOut map[string][]registry.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sourcesOut))
	assert.Len(t, sourcesOut, 4)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDecisionStreamDeliversEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/decisions"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the client.
	require.Eventually(t, func() bool { return f.server.stream.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	_, err = f.engine.Run(context.Background(), "ACME")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event cycle.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "ACME", event.Symbol)
	assert.NotEmpty(t, event.Decision.Result)
}

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/backend/internal/core"
)

func TestAlphaFeedNormalizeDaily(t *testing.T) {
	ad, err := NewAlphaFeedAdapter("https://example.test", "key", 0)
	require.NoError(t, err)

	raw := &RawResponse{StatusCode: 200, Body: []byte(`{
		"symbol": "ACME",
		"series": [
			{"date": "2026-03-02", "open": 102, "high": 104, "low": 101, "close": 103.5, "volume": 1200000},
			{"date": "2026-03-01", "open": 100, "high": 102, "low": 99, "close": 101.2, "volume": 900000}
		]
	}`)}

	payload, err := ad.Normalize(Params{Capability: core.CapPriceSeries}, raw)
	require.NoError(t, err)

	series, ok := payload.(core.PriceSeries)
	require.True(t, ok)
	require.Len(t, series.Bars, 2)
	assert.True(t, series.Bars[0].Date.Before(series.Bars[1].Date), "bars must be oldest-first")
	assert.Equal(t, 103.5, series.LastClose())
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), series.AsOf())
}

func TestAlphaFeedNormalizeEmptySeriesIsPermanent(t *testing.T) {
	ad, err := NewAlphaFeedAdapter("https://example.test", "key", 0)
	require.NoError(t, err)

	_, err = ad.Normalize(Params{Capability: core.CapPriceSeries}, &RawResponse{StatusCode: 200, Body: []byte(`{"symbol":"ACME","series":[]}`)})
	require.Error(t, err)
	assert.False(t, IsTransient(err), "empty payload is a vendor data defect, not worth retrying")
}

func TestAlphaFeedRequiresAPIKey(t *testing.T) {
	_, err := NewAlphaFeedAdapter("https://example.test", "", 0)
	assert.Error(t, err, "missing credential must fail at startup")
}

func TestQuantRailNormalizeInsiders(t *testing.T) {
	ad, err := NewQuantRailAdapter("https://example.test", "key", 0)
	require.NoError(t, err)

	raw := &RawResponse{StatusCode: 200, Body: []byte(`{
		"ticker": "ACME",
		"transactions": [
			{"name": "J. Doe", "role": "CFO", "side": "SELL", "shares": 50000, "value_usd": 5000000, "filed": "2026-02-20"},
			{"name": "A. Smith", "role": "Director", "side": "BUY", "shares": 1000, "value_usd": 100000, "filed": "2026-02-25"}
		]
	}`)}

	payload, err := ad.Normalize(Params{Capability: core.CapOwnership}, raw)
	require.NoError(t, err)

	activity, ok := payload.(core.OwnershipActivity)
	require.True(t, ok)
	require.Len(t, activity.Transactions, 2)
	assert.Equal(t, "buy", activity.Transactions[0].Type, "newest transaction first")

	ratio, sellValue := activity.SellConcentration()
	assert.InDelta(t, 5000000.0/5100000.0, ratio, 1e-9)
	assert.Equal(t, 5000000.0, sellValue)
}

func TestQuantRailNormalizeFundamentals(t *testing.T) {
	ad, err := NewQuantRailAdapter("https://example.test", "key", 0)
	require.NoError(t, err)

	raw := &RawResponse{StatusCode: 200, Body: []byte(`{
		"ticker": "ACME", "as_of": "2025-12-31",
		"market_cap": 12000000000, "pe": 21.4, "de_ratio": 0.8, "revenue_ttm": 4200000000, "eps": 3.1
	}`)}

	payload, err := ad.Normalize(Params{Capability: core.CapFundamentals}, raw)
	require.NoError(t, err)

	f, ok := payload.(core.Fundamentals)
	require.True(t, ok)
	assert.Equal(t, 21.4, f.PERatio)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), f.AsOf())
}

func TestDoHTTPClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		wantErr   bool
	}{
		{"ok", http.StatusOK, false, false},
		{"throttled", http.StatusTooManyRequests, true, true},
		{"server error", http.StatusBadGateway, true, true},
		{"bad credentials", http.StatusUnauthorized, false, true},
		{"not found", http.StatusNotFound, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			resp, err := doHTTP(context.Background(), srv.Client(), "test", &Request{Method: "GET", URL: srv.URL})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestQuoteClientPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ACME", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"ACME","price":104.2}`))
	}))
	defer srv.Close()

	qc := NewQuoteClient(srv.URL, "key")
	price, err := qc.Price(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 104.2, price)
}

func TestQuoteClientRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"ACME","price":0}`))
	}))
	defer srv.Close()

	qc := NewQuoteClient(srv.URL, "key")
	_, err := qc.Price(context.Background(), "ACME")
	assert.Error(t, err)
}

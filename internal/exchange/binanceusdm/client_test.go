package binanceusdm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New("test-key", "test-secret", false)
	a.client.BaseURL = srv.URL
	a.client.HTTPClient = srv.Client()
	return a
}

func TestFetchCandles_ParsesKlines(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		klines := [][]interface{}{
			{int64(1000), "100.0", "110.0", "95.0", "105.0", "42.5", int64(1999), "0", 0, "0", "0", "0"},
		}
		_ = json.NewEncoder(w).Encode(klines)
	})

	candles, err := a.FetchCandles(context.Background(), "BTCUSDT", "1h", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, time.UnixMilli(1000), candles[0].OpenTime)
}

func TestFetchTicker_UsesMarkPrice(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"symbol": "BTCUSDT", "markPrice": "43000.50", "indexPrice": "43001.0", "lastFundingRate": "0.0001", "nextFundingTime": 0, "time": 0},
		})
	})

	ticker, err := a.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 43000.50, ticker.MarkPrice)
}

func TestGetFreeBalance_FindsUSDT(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"accountAlias": "x", "asset": "BNB", "balance": "1", "availableBalance": "1"},
			{"accountAlias": "x", "asset": "USDT", "balance": "1000", "availableBalance": "850.25"},
		})
	})

	free, err := a.GetFreeBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 850.25, free)
}

func TestCancelAllOrders_PropagatesServerError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -2011, "msg": "Unknown order sent."})
	})

	ok, err := a.CancelAllOrders(context.Background(), "BTCUSDT")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestRoundToPrecision(t *testing.T) {
	assert.InDelta(t, 1.235, roundToPrecision(1.2346, 3), 1e-9)
	assert.InDelta(t, 1.0, roundToPrecision(1.0, 0), 1e-9)
}

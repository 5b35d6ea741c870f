package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

func testClient(t *testing.T, baseURL string, maxLimit int) *Client {
	t.Helper()
	return NewClient(config.ExchangeConfig{
		BaseURL:        baseURL,
		MaxLimit:       maxLimit,
		TimeoutSeconds: 5,
	}, zerolog.Nop())
}

func klineRow(ts int64, o, h, l, c, v float64) []any {
	return []any{
		float64(ts),
		fmt.Sprintf("%f", o),
		fmt.Sprintf("%f", h),
		fmt.Sprintf("%f", l),
		fmt.Sprintf("%f", c),
		fmt.Sprintf("%f", v),
		float64(ts + 3_599_999),
	}
}

func TestFetchCandlesParsesKlines(t *testing.T) {
	t0 := int64(1_700_000_000_000)
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery.Store(r.URL.Query())
		// out of order on purpose: the client must sort ascending
		rows := [][]any{
			klineRow(t0+3_600_000, 101, 103, 100, 102, 20),
			klineRow(t0, 100, 102, 99, 101, 10),
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	candles, err := c.FetchCandles(context.Background(), "btcusdt", model.TF1h, 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, t0, candles[0].Timestamp)
	assert.Equal(t, t0+3_600_000, candles[1].Timestamp)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.InDelta(t, 100.0, candles[0].Open, 1e-9)
	assert.InDelta(t, 102.0, candles[1].Close, 1e-9)

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	assert.Equal(t, "1h", q.Get("interval"))
	assert.Equal(t, "2", q.Get("limit"))
}

func TestFetchCandlesClampsCount(t *testing.T) {
	var gotLimit atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit.Store(r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([][]any{})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 500)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.TF1h, 9999, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "500", gotLimit.Load())
}

func TestFetchCandlesValidation(t *testing.T) {
	c := testClient(t, "http://localhost:0", 1500)
	ctx := context.Background()

	_, err := c.FetchCandles(ctx, "", model.TF1h, 10, nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = c.FetchCandles(ctx, "BTCUSDT", "7m", 10, nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = c.FetchCandles(ctx, "BTCUSDT", model.TF1h, 0, nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestFetchCandlesRejectsBadOHLC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// high below low
		rows := [][]any{klineRow(1_700_000_000_000, 100, 98, 99, 100, 10)}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.TF1h, 1, nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidOHLC)
}

func TestFetchCandlesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([][]any{klineRow(1_700_000_000_000, 100, 102, 99, 101, 10)})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	candles, err := c.FetchCandles(context.Background(), "BTCUSDT", model.TF1h, 1, nil, nil)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchCandlesDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	_, err := c.FetchCandles(context.Background(), "NOPEUSDT", model.TF1h, 1, nil, nil)
	require.Error(t, err)

	var ue *errs.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Contains(t, ue.Body, "Invalid symbol")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchCandlesExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.TF1h, 1, nil, nil)
	require.Error(t, err)

	var ue *errs.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.Equal(t, int32(retryAttempts), calls.Load())
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"3120.55"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	price, err := c.GetPrice(context.Background(), "ethusdt")
	require.NoError(t, err)
	assert.InDelta(t, 3120.55, price, 1e-9)
}

func TestListPairsFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","status":"TRADING","permissions":["SPOT"],"isSpotTradingAllowed":true},
			{"symbol":"BTCEUR","baseAsset":"BTC","quoteAsset":"EUR","status":"TRADING","permissions":["SPOT"]},
			{"symbol":"OLDUSDT","baseAsset":"OLD","quoteAsset":"USDT","status":"BREAK","permissions":["SPOT"]}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	pairs, err := c.ListPairs(context.Background(), PairFilter{QuoteAsset: "USDT", Status: "TRADING"})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "BTCUSDT", pairs[0].Symbol)
	assert.True(t, pairs[0].SpotTradingAllowed)
}

func TestFetchCandlesMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1500)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", model.TF1h, 1, nil, nil)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

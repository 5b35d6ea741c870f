package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/backtest"
	"github.com/fredrousseau/midas-sub000/internal/cache"
	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/enrich"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// latestOpen is divisible by every timeframe bucket up to 1d so every grid
// snaps cleanly.
const latestOpen = int64(1_755_993_600_000)

// uptrendFetcher serves a deterministic +0.1%/bar climb ending at latestOpen.
type uptrendFetcher struct{}

func (f *uptrendFetcher) MaxLimit() int { return 1000 }

func (f *uptrendFetcher) FetchCandles(_ context.Context, symbol string, tf model.Timeframe, count int, from, to *int64) ([]model.Candle, error) {
	tfMs := tf.Millis()
	end := latestOpen
	if to != nil && *to < end {
		end = (*to / tfMs) * tfMs
	}
	start := end - int64(count-1)*tfMs
	if from != nil && *from > start {
		start = ((*from + tfMs - 1) / tfMs) * tfMs
	}

	var bars []model.Candle
	for ts := start; ts <= end; ts += tfMs {
		k := float64((latestOpen - ts) / tfMs)
		close := 100.0 / math.Pow(1.001, k)
		open := close / 1.001
		bars = append(bars, model.Candle{
			Timestamp: ts,
			Open:      open,
			High:      close * 1.001,
			Low:       open * 0.999,
			Close:     close,
			Volume:    100,
			Symbol:    symbol,
		})
	}
	return bars, nil
}

func testServer(t *testing.T, withCache bool) *Server {
	t.Helper()
	log := zerolog.Nop()

	var segments marketdata.SegmentStore
	var segCache *cache.SegmentCache
	if withCache {
		cfg := config.RedisConfig{TTLSeconds: 300, MaxBarsPerKey: 5000, KeyPrefix: "midas:cache:"}
		segCache = cache.NewSegmentCache(cache.NewMemoryStore(), cfg, log)
		segments = segCache
	}

	provider := marketdata.NewProvider(&uptrendFetcher{}, segments, 5000, log)
	detector := regime.NewDetector(regime.DefaultConfig(), log)
	enricher := enrich.NewEnricher(indicators.NewEngine(4), log)

	return NewServer("127.0.0.1:0", Deps{
		Provider:     provider,
		Engine:       indicators.NewEngine(4),
		Detector:     detector,
		Orchestrator: mtf.NewOrchestrator(provider, detector, enricher, log),
		Cache:        segCache,
		Backtester:   backtest.NewRunner(provider, detector, log),
	}, log)
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandleOHLCV(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/ohlcv?symbol=btcusdt&timeframe=1h&count=50", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var result marketdata.OHLCVResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Equal(t, model.TF1h, result.Timeframe)
	assert.Equal(t, 50, result.Count)
	require.Len(t, result.Bars, 50)
	assert.Equal(t, latestOpen, result.Bars[49].Timestamp)
}

func TestHandleOHLCVBadTimeframe(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/ohlcv?symbol=BTCUSDT&timeframe=7m", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_input", env.Error.Type)
	assert.Contains(t, env.Error.Message, "7m")
}

func TestHandleOHLCVBadDate(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/ohlcv?symbol=BTCUSDT&timeframe=1h&from=yesterday", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_input", env.Error.Type)
}

func TestHandleIndicator(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/indicators/rsi?symbol=BTCUSDT&timeframe=1h&bars=10", nil)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var series indicators.TimeSeries
	require.NoError(t, json.Unmarshal(env.Data, &series))
	assert.Equal(t, "rsi", series.Indicator)
	require.Len(t, series.Data, 10)
}

func TestHandleIndicatorUnknown(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/indicators/vortex?symbol=BTCUSDT&timeframe=1h", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_input", env.Error.Type)
}

func TestHandleIndicatorBadConfig(t *testing.T) {
	s := testServer(t, false)
	rec, _ := doRequest(t, s, http.MethodGet, "/indicators/rsi?symbol=BTCUSDT&timeframe=1h&config=notjson", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegime(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/regime?symbol=BTCUSDT&timeframe=1h", nil)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var cls regime.Classification
	require.NoError(t, json.Unmarshal(env.Data, &cls))
	assert.Equal(t, regime.TrendingBullish, cls.Regime)
	assert.Equal(t, regime.Bullish, cls.Direction)
}

func TestHandleEnriched(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/context/enriched?symbol=BTCUSDT&long=1d&short=1h", nil)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var payload struct {
		Context        json.RawMessage `json:"context"`
		TradingContext json.RawMessage `json:"trading_context"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.NotEmpty(t, payload.Context)
	assert.NotEmpty(t, payload.TradingContext)

	var trading struct {
		Bias      string `json:"bias"`
		Scenarios []any  `json:"scenarios"`
	}
	require.NoError(t, json.Unmarshal(payload.TradingContext, &trading))
	assert.Equal(t, "bullish", trading.Bias)
	assert.NotEmpty(t, trading.Scenarios)
}

func TestHandleQuickRequiresTwoTimeframes(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/context/mtf-quick?symbol=BTCUSDT&long=1d", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_input", env.Error.Type)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	s := testServer(t, false)

	rec, env := doRequest(t, s, http.MethodGet, "/cache/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "cache_unavailable", env.Error.Type)

	rec, _ = doRequest(t, s, http.MethodDelete, "/cache", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheStatsAndClear(t *testing.T) {
	s := testServer(t, true)

	// warm the cache through a load
	rec, _ := doRequest(t, s, http.MethodGet, "/ohlcv?symbol=BTCUSDT&timeframe=1h&count=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := doRequest(t, s, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	require.Len(t, stats.Segments, 1)
	assert.Equal(t, 50, stats.Segments[0].Count)

	rec, _ = doRequest(t, s, http.MethodDelete, "/cache?symbol=BTCUSDT&timeframe=7m", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, s, http.MethodDelete, "/cache?symbol=BTCUSDT&timeframe=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doRequest(t, s, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Empty(t, stats.Segments)
}

func TestHandleBacktest(t *testing.T) {
	s := testServer(t, false)
	body, _ := json.Marshal(map[string]string{
		"symbol":    "BTCUSDT",
		"timeframe": "1h",
		"startDate": strconv.FormatInt(latestOpen-200*3_600_000, 10),
		"endDate":   strconv.FormatInt(latestOpen, 10),
	})
	rec, env := doRequest(t, s, http.MethodPost, "/backtest", body)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var result backtest.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, backtest.StrategyRegimeFollow, result.Strategy)
	assert.NotEmpty(t, result.ID)
	require.NotEmpty(t, result.Trades)
	assert.Equal(t, "long", result.Trades[0].Side)
}

func TestBacktestRunsWithoutDatabase(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/backtest/runs?symbol=BTCUSDT", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "store_unavailable", env.Error.Type)
}

func TestHandleBacktestMalformedBody(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodPost, "/backtest", []byte("{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_input", env.Error.Type)
}

func TestHandleBacktestMissingDates(t *testing.T) {
	s := testServer(t, false)
	body, _ := json.Marshal(map[string]string{"symbol": "BTCUSDT", "timeframe": "1h"})
	rec, env := doRequest(t, s, http.MethodPost, "/backtest", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "startDate")
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t, false)
	rec, env := doRequest(t, s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status string `json:"status"`
		Time   int64  `json:"time"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Positive(t, health.Time)
}

func TestMillisParam(t *testing.T) {
	got, err := millisParam("1700000000000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1_700_000_000_000), *got)

	got, err = millisParam("2024-01-02T03:04:05Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1_704_164_645_000), *got)

	got, err = millisParam("2024-01-02")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1_704_153_600_000), *got)

	got, err = millisParam("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = millisParam("yesterday")
	assert.Error(t, err)
}

package enrich

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

func risingCandles(n int, driftPerBar float64) []model.Candle {
	out := make([]model.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		next := price * (1 + driftPerBar)
		hi := math.Max(price, next) * 1.001
		lo := math.Min(price, next) * 0.999
		out[i] = model.Candle{
			Timestamp: int64(i+1) * 3_600_000,
			Open:      price, High: hi, Low: lo, Close: next,
			Volume: 100 + float64(i%5),
		}
		price = next
	}
	return out
}

func testEnricher() *Enricher {
	return NewEnricher(indicators.NewEngine(4), zerolog.Nop())
}

func detect(t *testing.T, candles []model.Candle, tf model.Timeframe) *regime.Classification {
	t.Helper()
	cls, err := regime.NewDetector(regime.DefaultConfig(), zerolog.Nop()).Detect(candles, tf)
	require.NoError(t, err)
	return cls
}

func TestDepthFor(t *testing.T) {
	assert.Equal(t, DepthLight, DepthFor(model.TF1d))
	assert.Equal(t, DepthLight, DepthFor(model.TF1w))
	assert.Equal(t, DepthMedium, DepthFor(model.TF4h))
	assert.Equal(t, DepthMedium, DepthFor(model.TF12h))
	assert.Equal(t, DepthFull, DepthFor(model.TF1h))
	assert.Equal(t, DepthFull, DepthFor(model.TF5m))
}

func TestEnrichLightDepth(t *testing.T) {
	candles := risingCandles(300, 0.001)
	cls := detect(t, candles, model.TF1d)

	ctx, err := testEnricher().Enrich(candles, model.TF1d, cls, nil)
	require.NoError(t, err)

	assert.Equal(t, DepthLight, ctx.ContextDepth)
	assert.NotNil(t, ctx.MovingAverages)
	assert.NotNil(t, ctx.PriceAction)
	assert.NotNil(t, ctx.SupportResistance)
	assert.NotNil(t, ctx.Trend)
	assert.Nil(t, ctx.Momentum)
	assert.Nil(t, ctx.Volatility)
	assert.Nil(t, ctx.Volume)
	assert.Nil(t, ctx.MicroPatterns)
	assert.NotEmpty(t, ctx.Summary)
}

func TestEnrichFullDepth(t *testing.T) {
	candles := risingCandles(300, 0.001)
	cls := detect(t, candles, model.TF1h)
	htfRSI := 65.0
	htf := &HTFState{Timeframe: model.TF4h, RSI: &htfRSI}

	ctx, err := testEnricher().Enrich(candles, model.TF1h, cls, htf)
	require.NoError(t, err)

	assert.Equal(t, DepthFull, ctx.ContextDepth)
	require.NotNil(t, ctx.Momentum)
	require.NotNil(t, ctx.Momentum.RSI)
	require.NotNil(t, ctx.Volatility)
	require.NotNil(t, ctx.Volume)
	require.NotNil(t, ctx.MicroPatterns)
	require.NotNil(t, ctx.Trend.HigherTimeframe)
	assert.Equal(t, model.TF4h, ctx.Trend.HigherTimeframe.Timeframe)

	// sustained uptrend: the MA stack must be stacked bullish
	assert.Contains(t, []string{"perfect_bullish", "bullish"}, ctx.MovingAverages.Alignment)
	// RSI of a monotone climb sits at the top of its range
	require.NotNil(t, ctx.Momentum.RSI.Value)
	assert.Greater(t, *ctx.Momentum.RSI.Value, 70.0)
}

func TestEnrichToleratesShortStream(t *testing.T) {
	candles := risingCandles(10, 0.001)
	cls := &regime.Classification{
		Regime:    regime.RangeNormal,
		Direction: regime.Neutral,
	}

	ctx, err := testEnricher().Enrich(candles, model.TF1h, cls, nil)
	require.NoError(t, err)
	assert.NotNil(t, ctx.MovingAverages)
	// deep EMAs never warmed up
	assert.Nil(t, ctx.MovingAverages.EMA["ema200"].Value)
	assert.Equal(t, "unknown", ctx.MovingAverages.Alignment)
}

func TestEnrichEmptyStream(t *testing.T) {
	_, err := testEnricher().Enrich(nil, model.TF1h, nil, nil)
	assert.Error(t, err)
}

func TestDetectCrossGolden(t *testing.T) {
	mk := func(vals ...float64) []*float64 {
		out := make([]*float64, len(vals))
		for i := range vals {
			out[i] = fptr(vals[i])
		}
		return out
	}
	// fast crosses above slow two bars before the end
	fast := mk(1, 1, 3, 4, 5)
	slow := mk(2, 2, 2, 2, 2)
	cross := detectCross(fast, slow)
	require.NotNil(t, cross)
	assert.Equal(t, "golden", cross.Direction)
	assert.Equal(t, 2, cross.BarsSince)

	// death cross right at the end
	cross = detectCross(mk(3, 3, 1), mk(2, 2, 2))
	require.NotNil(t, cross)
	assert.Equal(t, "death", cross.Direction)
	assert.Equal(t, 0, cross.BarsSince)

	// no flip in the window
	assert.Nil(t, detectCross(mk(3, 3, 3), mk(2, 2, 2)))
}

func TestDivergence(t *testing.T) {
	n := 40
	closes := make([]float64, n)
	osc := make([]*float64, n)

	// price makes a higher high while the oscillator makes a lower high
	for i := 0; i < n; i++ {
		closes[i] = 100 + float64(i)*0.5
		osc[i] = fptr(80 - float64(i)*0.5)
	}
	assert.Equal(t, "bearish", divergence(closes, osc, 20))

	// price lower low, oscillator higher low
	for i := 0; i < n; i++ {
		closes[i] = 100 - float64(i)*0.5
		osc[i] = fptr(20 + float64(i)*0.5)
	}
	assert.Equal(t, "bullish", divergence(closes, osc, 20))

	// both rising together: no divergence
	for i := 0; i < n; i++ {
		closes[i] = 100 + float64(i)*0.5
		osc[i] = fptr(50 + float64(i)*0.5)
	}
	assert.Equal(t, "none", divergence(closes, osc, 20))

	// window larger than data
	assert.Equal(t, "", divergence(closes[:10], osc[:10], 20))
}

func TestPercentileOf(t *testing.T) {
	window := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, percentileOf(window, 5), 1e-9)
	assert.InDelta(t, 0.6, percentileOf(window, 3), 1e-9)
	assert.InDelta(t, 0.0, percentileOf(window, 0.5), 1e-9)
	assert.InDelta(t, 0.0, percentileOf(nil, 1), 1e-9)
}

func TestLinregSlope(t *testing.T) {
	assert.InDelta(t, 2.0, linregSlope([]float64{1, 3, 5, 7}), 1e-9)
	assert.InDelta(t, -1.0, linregSlope([]float64{5, 4, 3, 2}), 1e-9)
	assert.InDelta(t, 0.0, linregSlope([]float64{3, 3, 3}), 1e-9)
	assert.InDelta(t, 0.0, linregSlope([]float64{1}), 1e-9)
}

func TestTailValues(t *testing.T) {
	series := []*float64{nil, fptr(1), nil, fptr(2), fptr(3)}
	assert.Equal(t, []float64{1, 2, 3}, tailValues(series, 5))
	assert.Equal(t, []float64{2, 3}, tailValues(series, 2))
	assert.Empty(t, tailValues([]*float64{nil, nil}, 3))
}

func TestSwingPoints(t *testing.T) {
	// one clean local high at index 4 and low at index 8
	prices := []float64{100, 101, 102, 104, 106, 104, 102, 100, 98, 100, 102}
	candles := make([]model.Candle, len(prices))
	for i, p := range prices {
		candles[i] = model.Candle{
			Timestamp: int64(i+1) * 3_600_000,
			Open:      p, High: p + 0.5, Low: p - 0.5, Close: p,
			Volume: 10,
		}
	}
	swings := swingPoints(candles, 2)
	require.NotEmpty(t, swings)

	var kinds []string
	for _, s := range swings {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, "high")
	assert.Contains(t, kinds, "low")
}

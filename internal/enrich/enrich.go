// Package enrich builds the per-timeframe statistical context: six
// category enrichers (moving averages, momentum, volatility, volume,
// price action, chart patterns) over one candle stream, with the depth of
// the view chosen by timeframe duration. Every sub-enricher tolerates
// missing upstream series by emitting nulls, never by failing.
package enrich

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Depth selects how much of the context is populated for a timeframe.
type Depth string

const (
	DepthLight  Depth = "light"
	DepthMedium Depth = "medium"
	DepthFull   Depth = "full"
)

// DepthFor maps timeframe duration to context depth: daily and above get
// the light view, 4h up to a day the medium one, intraday the full one.
func DepthFor(tf model.Timeframe) Depth {
	d := tf.Duration()
	switch {
	case d >= 24*time.Hour:
		return DepthLight
	case d >= 4*time.Hour:
		return DepthMedium
	default:
		return DepthFull
	}
}

// HTFState carries the indicator readings of the nearest higher timeframe
// into a lower-timeframe enrichment pass.
type HTFState struct {
	Timeframe     model.Timeframe `json:"timeframe"`
	RSI           *float64        `json:"rsi,omitempty"`
	MACDHistogram *float64        `json:"macd_histogram,omitempty"`
	ATR           *float64        `json:"atr,omitempty"`
}

// Context is the enriched view of one (symbol, timeframe) stream.
type Context struct {
	Timeframe         model.Timeframe        `json:"timeframe"`
	ContextDepth      Depth                  `json:"context_depth"`
	Regime            *regime.Classification `json:"regime"`
	MovingAverages    *MovingAverages        `json:"moving_averages,omitempty"`
	Momentum          *Momentum              `json:"momentum,omitempty"`
	Volatility        *Volatility            `json:"volatility,omitempty"`
	Volume            *Volume                `json:"volume,omitempty"`
	Trend             *Trend                 `json:"trend"`
	PriceAction       *PriceAction           `json:"price_action"`
	SupportResistance *SupportResistance     `json:"support_resistance,omitempty"`
	MicroPatterns     *Patterns              `json:"micro_patterns,omitempty"`
	Summary           string                 `json:"summary"`
}

// Trend is the compact trend block shared by every depth.
type Trend struct {
	Direction         regime.Direction `json:"direction"`
	Strength          float64          `json:"strength"`
	EfficiencyRatio   float64          `json:"efficiency_ratio"`
	HigherTimeframe   *HTFState        `json:"higher_timeframe,omitempty"`
}

// Enricher drives the sub-enrichers over a candle stream.
type Enricher struct {
	engine *indicators.Engine
	log    zerolog.Logger
}

// NewEnricher creates an Enricher backed by the given series engine.
func NewEnricher(engine *indicators.Engine, log zerolog.Logger) *Enricher {
	return &Enricher{engine: engine, log: log.With().Str("component", "enrich").Logger()}
}

// Enrich produces the context for one timeframe. The regime classification
// must already exist; htf may be nil for the highest timeframe.
func (e *Enricher) Enrich(candles []model.Candle, tf model.Timeframe, cls *regime.Classification, htf *HTFState) (*Context, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to enrich for %s", tf)
	}
	depth := DepthFor(tf)

	ctx := &Context{
		Timeframe:    tf,
		ContextDepth: depth,
		Regime:       cls,
		Trend: &Trend{
			Direction:       cls.Direction,
			Strength:        cls.Components.DirectionStrength,
			EfficiencyRatio: cls.Components.EfficiencyRatio,
			HigherTimeframe: htf,
		},
	}

	ctx.MovingAverages = e.enrichMovingAverages(candles)
	ctx.PriceAction = e.enrichPriceAction(candles)
	ctx.SupportResistance = e.enrichSupportResistance(candles)

	if depth != DepthLight {
		ctx.Momentum = e.enrichMomentum(candles, htf)
		ctx.Volatility = e.enrichVolatility(candles, tf, htf)
		ctx.Volume = e.enrichVolume(candles)
	}
	if depth == DepthFull {
		ctx.MicroPatterns = e.enrichPatterns(candles, ctx)
	}

	ctx.Summary = summarize(ctx)
	return ctx, nil
}

func summarize(ctx *Context) string {
	s := fmt.Sprintf("%s: %s (confidence %.2f)", ctx.Timeframe, ctx.Regime.Regime, ctx.Regime.Confidence)
	if ctx.MovingAverages != nil && ctx.MovingAverages.Alignment != "" {
		s += ", MA " + ctx.MovingAverages.Alignment
	}
	if ctx.Volatility != nil && ctx.Volatility.Bollinger != nil && ctx.Volatility.Bollinger.Squeeze {
		s += ", bollinger squeeze"
	}
	if ctx.MicroPatterns != nil && len(ctx.MicroPatterns.Detected) > 0 {
		s += fmt.Sprintf(", %d pattern(s)", len(ctx.MicroPatterns.Detected))
	}
	return s
}

// --- shared series helpers -------------------------------------------------

func closeSeries(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// emaSeries streams an EMA over values, nil while warming up.
func emaSeries(values []float64, period int) []*float64 {
	ema := indicators.NewEMA(period)
	out := make([]*float64, len(values))
	for i, v := range values {
		ema.UpdateValue(v)
		if ema.Stable() {
			out[i] = fptr(ema.Value())
		}
	}
	return out
}

func smaSeries(values []float64, period int) []*float64 {
	sma := indicators.NewSMA(period)
	out := make([]*float64, len(values))
	for i, v := range values {
		sma.UpdateValue(v)
		if sma.Stable() {
			out[i] = fptr(sma.Value())
		}
	}
	return out
}

func rsiSeries(values []float64, period int) []*float64 {
	rsi := indicators.NewRSI(period)
	out := make([]*float64, len(values))
	for i, v := range values {
		rsi.UpdateValue(v)
		if rsi.Stable() {
			out[i] = fptr(rsi.Value())
		}
	}
	return out
}

func atrSeries(candles []model.Candle, period int) []*float64 {
	atr := indicators.NewATR(period)
	out := make([]*float64, len(candles))
	for i, c := range candles {
		atr.Update(c.High, c.Low, c.Close)
		if atr.Stable() {
			out[i] = fptr(atr.Value())
		}
	}
	return out
}

func lastValue(series []*float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != nil {
			return series[i]
		}
	}
	return nil
}

// tailValues returns up to n trailing non-nil values, oldest first.
func tailValues(series []*float64, n int) []float64 {
	var out []float64
	for i := len(series) - 1; i >= 0 && len(out) < n; i-- {
		if series[i] != nil {
			out = append(out, *series[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// percentileOf reports the fraction of window values at or below v.
func percentileOf(window []float64, v float64) float64 {
	if len(window) == 0 {
		return 0
	}
	below := 0
	for _, w := range window {
		if w <= v {
			below++
		}
	}
	return float64(below) / float64(len(window))
}

// linregSlope fits values against their index and returns the slope.
func linregSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func fptr(v float64) *float64 { return &v }

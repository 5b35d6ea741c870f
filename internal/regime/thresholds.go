package regime

import (
	"math"
	"sort"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// BaseThresholds are the unadjusted classification boundaries.
type BaseThresholds struct {
	ADXWeak      float64 `yaml:"adx_weak"`
	ADXTrending  float64 `yaml:"adx_trending"`
	ADXStrong    float64 `yaml:"adx_strong"`
	ERTrending   float64 `yaml:"er_trending"`
	ERRange      float64 `yaml:"er_range"`
	ATRRatioLow  float64 `yaml:"atr_ratio_low"`
	ATRRatioHigh float64 `yaml:"atr_ratio_high"`
}

// DefaultBaseThresholds returns the stock boundaries.
func DefaultBaseThresholds() BaseThresholds {
	return BaseThresholds{
		ADXWeak:      20,
		ADXTrending:  25,
		ADXStrong:    40,
		ERTrending:   0.35,
		ERRange:      0.25,
		ATRRatioLow:  0.8,
		ATRRatioHigh: 1.3,
	}
}

// Thresholds are the adjusted boundaries actually applied, together with
// the adjustment factors that produced them.
type Thresholds struct {
	ADXWeak      float64 `json:"adx_weak"`
	ADXTrending  float64 `json:"adx_trending"`
	ADXStrong    float64 `json:"adx_strong"`
	ERTrending   float64 `json:"er_trending"`
	ERRange      float64 `json:"er_range"`
	ATRRatioLow  float64 `json:"atr_ratio_low"`
	ATRRatioHigh float64 `json:"atr_ratio_high"`

	TimeframeMultiplier  float64 `json:"timeframe_multiplier"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	CombinedMultiplier   float64 `json:"combined_multiplier"`
}

// timeframeMultipliers scale thresholds by bucket size: shorter timeframes
// are noisier, so their trend boundaries sit higher.
var timeframeMultipliers = map[model.Timeframe]float64{
	model.TF1m:  1.3,
	model.TF3m:  1.25,
	model.TF5m:  1.2,
	model.TF15m: 1.15,
	model.TF30m: 1.1,
	model.TF1h:  1.0,
	model.TF2h:  0.95,
	model.TF4h:  0.9,
	model.TF6h:  0.9,
	model.TF8h:  0.88,
	model.TF12h: 0.87,
	model.TF1d:  0.85,
	model.TF3d:  0.82,
	model.TF1w:  0.8,
	model.TF1M:  0.8,
}

func timeframeMultiplier(tf model.Timeframe) float64 {
	if m, ok := timeframeMultipliers[tf]; ok {
		return m
	}
	return 1.0
}

// volatilityMultiplier maps the current ATR ratio relative to its recent
// median into [0.7, 1.5]. A calm market (current ≈ median) yields ≈ 1.0.
func volatilityMultiplier(current float64, history []float64) float64 {
	med := median(history)
	if med <= 0 {
		return 1.0
	}
	rel := current / med
	return clamp(0.4+rel*0.6, 0.7, 1.5)
}

// adjust applies the combined multiplier: ADX thresholds scale directly,
// ATR-ratio thresholds scale inversely through a square root (high
// combined multipliers loosen the volatility boundaries less than they
// tighten trend detection), ER thresholds follow the timeframe only.
func adjust(base BaseThresholds, tf model.Timeframe, volMult float64, adaptive bool) Thresholds {
	tfMult := timeframeMultiplier(tf)
	if !adaptive {
		tfMult, volMult = 1.0, 1.0
	}
	combined := tfMult * volMult
	sqrtComb := math.Sqrt(combined)

	return Thresholds{
		ADXWeak:      clamp(base.ADXWeak*combined, 10, 100),
		ADXTrending:  clamp(base.ADXTrending*combined, 10, 100),
		ADXStrong:    clamp(base.ADXStrong*combined, 10, 100),
		ERTrending:   clamp(base.ERTrending*tfMult, 0.1, 1.0),
		ERRange:      clamp(base.ERRange*tfMult, 0.1, 1.0),
		ATRRatioLow:  math.Max(base.ATRRatioLow/sqrtComb, 0.3),
		ATRRatioHigh: math.Max(base.ATRRatioHigh/sqrtComb, 0.3),

		TimeframeMultiplier:  tfMult,
		VolatilityMultiplier: volMult,
		CombinedMultiplier:   combined,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

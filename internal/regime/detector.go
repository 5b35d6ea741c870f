// Package regime classifies market behavior per (symbol, timeframe) into
// trending / range / breakout regimes with a confidence score, using ADX,
// Efficiency Ratio, ATR and EMA composition under timeframe- and
// volatility-adaptive thresholds.
package regime

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// Direction is the detector's trend hypothesis.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Regime labels.
const (
	TrendingBullish  = "trending_bullish"
	TrendingBearish  = "trending_bearish"
	TrendingNeutral  = "trending_neutral"
	RangeLowVol      = "range_low_vol"
	RangeNormal      = "range_normal"
	RangeHighVol     = "range_high_vol"
	RangeDirectional = "range_directional"
	BreakoutBullish  = "breakout_bullish"
	BreakoutBearish  = "breakout_bearish"
	BreakoutNeutral  = "breakout_neutral"
)

// Components are the indicator readings the classification was made from.
type Components struct {
	ADX               float64 `json:"adx"`
	PlusDI            float64 `json:"plus_di"`
	MinusDI           float64 `json:"minus_di"`
	EfficiencyRatio   float64 `json:"efficiency_ratio"`
	ATRRatio          float64 `json:"atr_ratio"`
	EMAShort          float64 `json:"ema_short"`
	EMALong           float64 `json:"ema_long"`
	DirectionStrength float64 `json:"direction_strength"`
}

// Classification is the detector output.
type Classification struct {
	Regime     string         `json:"regime"`
	Direction  Direction      `json:"direction"`
	Confidence float64        `json:"confidence"`
	Components Components     `json:"components"`
	Thresholds Thresholds     `json:"thresholds"`
	Metadata   map[string]any `json:"metadata"`
}

// Config tunes the detector.
type Config struct {
	MinBars            int            `yaml:"min_bars"`
	EMAShortPeriod     int            `yaml:"ema_short_period"`
	EMALongPeriod      int            `yaml:"ema_long_period"`
	ADXPeriod          int            `yaml:"adx_period"`
	ATRShortPeriod     int            `yaml:"atr_short_period"`
	ATRLongPeriod      int            `yaml:"atr_long_period"`
	ERPeriod           int            `yaml:"er_period"`
	ERSmoothing        int            `yaml:"er_smoothing"`
	VolatilityWindow   int            `yaml:"volatility_window"`
	AdaptiveThresholds bool           `yaml:"adaptive_thresholds"`
	Base               BaseThresholds `yaml:"base_thresholds"`
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		MinBars:            60,
		EMAShortPeriod:     20,
		EMALongPeriod:      50,
		ADXPeriod:          14,
		ATRShortPeriod:     14,
		ATRLongPeriod:      50,
		ERPeriod:           10,
		ERSmoothing:        3,
		VolatilityWindow:   30,
		AdaptiveThresholds: true,
		Base:               DefaultBaseThresholds(),
	}
}

// Detector classifies the market regime from a candle stream.
type Detector struct {
	cfg Config
	log zerolog.Logger
}

// NewDetector creates a Detector with the given tuning.
func NewDetector(cfg Config, log zerolog.Logger) *Detector {
	if cfg.MinBars <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg, log: log.With().Str("component", "regime").Logger()}
}

// Detect runs the full classification over candles for timeframe tf.
// It fails fast with ErrInsufficientData when the stream is too short or
// any required indicator has a null tail; it never substitutes zero.
func (d *Detector) Detect(candles []model.Candle, tf model.Timeframe) (*Classification, error) {
	if len(candles) < d.cfg.MinBars {
		return nil, fmt.Errorf("%w: %d bars, regime detection needs %d",
			errs.ErrInsufficientData, len(candles), d.cfg.MinBars)
	}

	adx := indicators.NewADX(d.cfg.ADXPeriod)
	atrShort := indicators.NewATR(d.cfg.ATRShortPeriod)
	atrLong := indicators.NewATR(d.cfg.ATRLongPeriod)
	emaShort := indicators.NewEMA(d.cfg.EMAShortPeriod)
	emaLong := indicators.NewEMA(d.cfg.EMALongPeriod)
	er := indicators.NewEfficiencyRatio(d.cfg.ERPeriod)
	erSmooth := indicators.NewEMA(d.cfg.ERSmoothing)

	// atrRatios collects the stable atr_short/atr_long readings feeding the
	// volatility multiplier.
	var atrRatios []float64
	for _, c := range candles {
		adx.Update(c.High, c.Low, c.Close)
		atrShort.Update(c.High, c.Low, c.Close)
		atrLong.Update(c.High, c.Low, c.Close)
		emaShort.UpdateValue(c.Close)
		emaLong.UpdateValue(c.Close)
		er.UpdateValue(c.Close)
		if er.Stable() {
			erSmooth.UpdateValue(er.Value())
		}
		if atrShort.Stable() && atrLong.Stable() && atrLong.Value() > 0 {
			atrRatios = append(atrRatios, atrShort.Value()/atrLong.Value())
		}
	}

	if !adx.Stable() || !atrShort.Stable() || !atrLong.Stable() ||
		!emaShort.Stable() || !emaLong.Stable() || !erSmooth.Stable() {
		return nil, fmt.Errorf("%w: indicator tail not stable after %d bars",
			errs.ErrInsufficientData, len(candles))
	}
	if atrLong.Value() <= 0 {
		return nil, fmt.Errorf("%w: zero long-window ATR", errs.ErrInsufficientData)
	}

	price := candles[len(candles)-1].Close
	atrRatio := atrShort.Value() / atrLong.Value()

	volMult := 1.0
	if d.cfg.AdaptiveThresholds {
		window := atrRatios
		if len(window) > d.cfg.VolatilityWindow {
			window = window[len(window)-d.cfg.VolatilityWindow:]
		}
		volMult = volatilityMultiplier(atrRatio, window)
	}
	thresholds := adjust(d.cfg.Base, tf, volMult, d.cfg.AdaptiveThresholds)

	comps := Components{
		ADX:               round2(adx.Value()),
		PlusDI:            round2(adx.PlusDI()),
		MinusDI:           round2(adx.MinusDI()),
		EfficiencyRatio:   round4(erSmooth.Value()),
		ATRRatio:          round4(atrRatio),
		EMAShort:          round4(emaShort.Value()),
		EMALong:           round4(emaLong.Value()),
		DirectionStrength: round4(directionStrength(emaShort.Value(), emaLong.Value(), atrLong.Value())),
	}

	direction := hypothesizeDirection(price, comps)
	label := classify(comps, thresholds, direction)
	confidence := confidenceScore(label, direction, comps, thresholds)

	return &Classification{
		Regime:     label,
		Direction:  direction,
		Confidence: confidence,
		Components: comps,
		Thresholds: thresholds,
		Metadata: map[string]any{
			"timeframe":  tf.String(),
			"bars":       len(candles),
			"last_close": price,
			"adaptive":   d.cfg.AdaptiveThresholds,
		},
	}, nil
}

// hypothesizeDirection derives the trend hypothesis from the EMA stack and
// vetoes it when the directional-movement lines disagree.
func hypothesizeDirection(price float64, c Components) Direction {
	dir := Neutral
	switch {
	case price > c.EMAShort && c.EMAShort > c.EMALong:
		dir = Bullish
	case price < c.EMAShort && c.EMAShort < c.EMALong:
		dir = Bearish
	}
	if dir == Bullish && c.PlusDI < c.MinusDI {
		return Neutral
	}
	if dir == Bearish && c.MinusDI < c.PlusDI {
		return Neutral
	}
	return dir
}

func directionStrength(emaShort, emaLong, atrLong float64) float64 {
	if atrLong == 0 {
		return 0
	}
	return clamp((emaShort-emaLong)/atrLong, -2, 2)
}

// classify picks the regime label, breakout taking priority over trending,
// trending over range.
func classify(c Components, t Thresholds, dir Direction) string {
	switch {
	case c.ATRRatio > t.ATRRatioHigh && c.ADX >= t.ADXTrending:
		return "breakout_" + string(dir)
	case c.ADX >= t.ADXTrending && c.EfficiencyRatio >= t.ERTrending:
		return "trending_" + string(dir)
	case c.ADX >= t.ADXTrending:
		return RangeDirectional
	case c.ATRRatio < t.ATRRatioLow:
		return RangeLowVol
	case c.ATRRatio > t.ATRRatioHigh:
		return RangeHighVol
	default:
		return RangeNormal
	}
}

// confidenceScore blends regime clarity, indicator coherence, directional
// strength and efficiency-ratio fit.
func confidenceScore(label string, dir Direction, c Components, t Thresholds) float64 {
	clarity := clarityScore(label, c, t)
	coherence := coherenceScore(label, dir, c, t)
	direction := directionScore(c.DirectionStrength)
	erFit := erFitScore(label, c.EfficiencyRatio)

	conf := 0.35*clarity + 0.30*coherence + 0.20*direction + 0.15*erFit
	return round4(clamp(conf, 0, 1))
}

func clarityScore(label string, c Components, t Thresholds) float64 {
	if isTrending(label) || isBreakout(label) {
		switch {
		case c.ADX >= t.ADXStrong:
			return 1.0
		case c.ADX >= t.ADXTrending:
			return 0.7
		case c.ADX >= t.ADXWeak:
			return 0.4
		default:
			return 0.2
		}
	}
	// range regimes prefer low trend strength
	switch {
	case c.ADX < t.ADXWeak:
		return 1.0
	case c.ADX < t.ADXTrending:
		return 0.7
	case c.ADX < t.ADXStrong:
		return 0.4
	default:
		return 0.2
	}
}

func erFitScore(label string, er float64) float64 {
	switch {
	case isTrending(label):
		switch {
		case er > 0.7:
			return 1.0
		case er > 0.5:
			return 0.7
		case er > 0.3:
			return 0.4
		default:
			return 0.2
		}
	case isBreakout(label):
		switch {
		case er > 0.4:
			return 1.0
		case er > 0.25:
			return 0.6
		default:
			return 0.3
		}
	default:
		switch {
		case er < 0.25:
			return 1.0
		case er < 0.4:
			return 0.6
		default:
			return 0.2
		}
	}
}

func directionScore(strength float64) float64 {
	abs := math.Abs(strength)
	switch {
	case abs >= 1.5:
		return 1.0
	case abs >= 1.0:
		return 0.8
	case abs >= 0.5:
		return 0.6
	case abs >= 0.25:
		return 0.4
	default:
		return 0.2
	}
}

// coherenceScore is the fraction of per-regime boolean predicates the
// indicator readings satisfy.
func coherenceScore(label string, dir Direction, c Components, t Thresholds) float64 {
	adxHigh := c.ADX >= t.ADXTrending
	erHigh := c.EfficiencyRatio >= t.ERTrending
	erLow := c.EfficiencyRatio < t.ERRange
	lowVol := c.ATRRatio < t.ATRRatioLow
	highVol := c.ATRRatio > t.ATRRatioHigh
	bull := dir == Bullish
	bear := dir == Bearish
	neut := dir == Neutral

	var rules []bool
	switch {
	case label == TrendingBullish:
		rules = []bool{adxHigh, erHigh, bull}
	case label == TrendingBearish:
		rules = []bool{adxHigh, erHigh, bear}
	case label == TrendingNeutral:
		rules = []bool{adxHigh, erHigh, neut}
	case label == BreakoutBullish:
		rules = []bool{adxHigh, highVol, bull}
	case label == BreakoutBearish:
		rules = []bool{adxHigh, highVol, bear}
	case label == BreakoutNeutral:
		rules = []bool{adxHigh, highVol, neut}
	case label == RangeDirectional:
		rules = []bool{adxHigh, erLow}
	case label == RangeLowVol:
		rules = []bool{!adxHigh, erLow, lowVol}
	case label == RangeHighVol:
		rules = []bool{!adxHigh, erLow, highVol}
	default: // range_normal
		rules = []bool{!adxHigh, erLow, !lowVol, !highVol}
	}

	matched := 0
	for _, ok := range rules {
		if ok {
			matched++
		}
	}
	return float64(matched) / float64(len(rules))
}

func isTrending(label string) bool { return len(label) >= 8 && label[:8] == "trending" }
func isBreakout(label string) bool { return len(label) >= 8 && label[:8] == "breakout" }

func round2(v float64) float64 { return indicators.Round(v, 2) }
func round4(v float64) float64 { return indicators.Round(v, 4) }

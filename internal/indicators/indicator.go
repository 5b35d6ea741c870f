// Package indicators implements the streaming technical-indicator family:
// stateful O(1)-per-candle calculators behind a common capability set, a
// compile-time catalog keyed by indicator name, and the series engine that
// drives them over a shared candle stream.
package indicators

import (
	"math"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// InputKind enumerates which candle fields feed an indicator's update step.
type InputKind string

const (
	InputClose       InputKind = "close"
	InputHighLow     InputKind = "high_low"
	InputHLC         InputKind = "high_low_close"
	InputOHLC        InputKind = "ohlc"
	InputCloseVolume InputKind = "close_volume"
)

// Category groups indicators for the statistical enrichers.
type Category string

const (
	CategoryMovingAverage Category = "moving_average"
	CategoryMomentum      Category = "momentum"
	CategoryVolatility    Category = "volatility"
	CategoryVolume        Category = "volume"
	CategoryTrend         Category = "trend"
)

// Config is an indicator parameter set. User configs are merged over the
// catalog defaults key by key.
type Config map[string]float64

// Merge returns a copy of c with overrides applied on top.
func (c Config) Merge(overrides Config) Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Int reads a config value as a positive integer, falling back to def.
func (c Config) Int(key string, def int) int {
	if v, ok := c[key]; ok && v >= 1 {
		return int(v)
	}
	return def
}

// Float reads a config value with a fallback.
func (c Config) Float(key string, def float64) float64 {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Indicator is the streaming calculator capability set. Instances are
// stateful and not safe for concurrent use; one pipeline drives one
// instance single-threaded.
type Indicator interface {
	// Update feeds the next candle.
	Update(c model.Candle)
	// Snapshot returns the current value of every output key; nil while the
	// sub-series is still warming up.
	Snapshot() map[string]*float64
	// Stable reports whether the warm-up window has been consumed.
	Stable() bool
}

// Round truncates v to the given number of decimal places, half away from
// zero. NaN and infinities pass through untouched.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func ptr(v float64) *float64 { return &v }

package enrich

import (
	"math"
	"sort"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// MALevel is one moving average reading relative to the current price.
type MALevel struct {
	Value        *float64 `json:"value"`
	PriceDiffPct *float64 `json:"price_diff_pct"`
	Slope        *float64 `json:"slope"`
}

// CrossInfo describes the most recent EMA(12)/EMA(26) cross.
type CrossInfo struct {
	Direction string `json:"direction"` // golden or death
	BarsSince int    `json:"bars_since"`
}

// MovingAverages is the moving-average enrichment block.
type MovingAverages struct {
	EMA               map[string]MALevel `json:"ema"`
	SMA               map[string]MALevel `json:"sma"`
	Cross             *CrossInfo         `json:"cross,omitempty"`
	Alignment         string             `json:"alignment"`
	NearestSupport    *float64           `json:"nearest_support,omitempty"`
	NearestResistance *float64           `json:"nearest_resistance,omitempty"`
}

var emaPeriods = map[string]int{"ema12": 12, "ema26": 26, "ema50": 50, "ema200": 200}
var smaPeriods = map[string]int{"sma20": 20, "sma50": 50}

func (e *Enricher) enrichMovingAverages(candles []model.Candle) *MovingAverages {
	closes := closeSeries(candles)
	price := closes[len(closes)-1]

	out := &MovingAverages{
		EMA: make(map[string]MALevel, len(emaPeriods)),
		SMA: make(map[string]MALevel, len(smaPeriods)),
	}

	series := make(map[string][]*float64, len(emaPeriods))
	for name, period := range emaPeriods {
		s := emaSeries(closes, period)
		series[name] = s
		out.EMA[name] = maLevel(s, price, period)
	}
	for name, period := range smaPeriods {
		out.SMA[name] = maLevel(smaSeries(closes, period), price, period)
	}

	out.Cross = detectCross(series["ema12"], series["ema26"])
	out.Alignment = maAlignment(price, series)
	out.NearestSupport, out.NearestResistance = maCluster(price, out.EMA, out.SMA)
	return out
}

func maLevel(series []*float64, price float64, period int) MALevel {
	v := lastValue(series)
	if v == nil {
		return MALevel{}
	}
	level := MALevel{Value: v}
	if *v != 0 {
		level.PriceDiffPct = fptr((price - *v) / *v * 100.0)
	}
	// slope over the last quarter window, floored at 3 bars
	win := period / 4
	if win < 3 {
		win = 3
	}
	if tail := tailValues(series, win); len(tail) >= 2 {
		level.Slope = fptr(linregSlope(tail))
	}
	return level
}

// detectCross walks backwards looking for the last bar where the fast and
// slow EMA relationship flipped.
func detectCross(fast, slow []*float64) *CrossInfo {
	n := len(fast)
	if n != len(slow) {
		return nil
	}
	sign := func(i int) int {
		if fast[i] == nil || slow[i] == nil {
			return 0
		}
		if *fast[i] > *slow[i] {
			return 1
		}
		if *fast[i] < *slow[i] {
			return -1
		}
		return 0
	}
	current := sign(n - 1)
	if current == 0 {
		return nil
	}
	for i := n - 2; i >= 0; i-- {
		s := sign(i)
		if s == 0 {
			return nil
		}
		if s != current {
			direction := "golden"
			if current < 0 {
				direction = "death"
			}
			return &CrossInfo{Direction: direction, BarsSince: n - 1 - (i + 1)}
		}
	}
	return nil
}

// maAlignment labels the price/EMA stack ordering.
func maAlignment(price float64, series map[string][]*float64) string {
	get := func(name string) (float64, bool) {
		v := lastValue(series[name])
		if v == nil {
			return 0, false
		}
		return *v, true
	}
	e12, ok12 := get("ema12")
	e26, ok26 := get("ema26")
	e50, ok50 := get("ema50")
	if !ok12 || !ok26 || !ok50 {
		return "unknown"
	}
	switch {
	case price > e12 && e12 > e26 && e26 > e50:
		return "perfect_bullish"
	case price < e12 && e12 < e26 && e26 < e50:
		return "perfect_bearish"
	case e12 > e26 && e26 > e50:
		return "bullish"
	case e12 < e26 && e26 < e50:
		return "bearish"
	default:
		return "mixed"
	}
}

// maCluster finds the nearest MA below (support) and above (resistance)
// the current price.
func maCluster(price float64, emas, smas map[string]MALevel) (support, resistance *float64) {
	var levels []float64
	for _, l := range emas {
		if l.Value != nil {
			levels = append(levels, *l.Value)
		}
	}
	for _, l := range smas {
		if l.Value != nil {
			levels = append(levels, *l.Value)
		}
	}
	sort.Float64s(levels)

	bestBelow, bestAbove := math.Inf(-1), math.Inf(1)
	for _, l := range levels {
		if l < price && l > bestBelow {
			bestBelow = l
		}
		if l > price && l < bestAbove {
			bestAbove = l
		}
	}
	if !math.IsInf(bestBelow, -1) {
		support = fptr(bestBelow)
	}
	if !math.IsInf(bestAbove, 1) {
		resistance = fptr(bestAbove)
	}
	return support, resistance
}

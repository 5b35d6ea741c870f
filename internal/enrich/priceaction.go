package enrich

import (
	"math"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// BarShape classifies the last bar's anatomy.
type BarShape struct {
	Type             string   `json:"type"`
	BodyToRange      *float64 `json:"body_to_range,omitempty"`
	UpperWickPct     *float64 `json:"upper_wick_pct,omitempty"`
	LowerWickPct     *float64 `json:"lower_wick_pct,omitempty"`
	WickInterpretation string `json:"wick_interpretation,omitempty"`
}

// StructureCounts are HH/HL/LH/LL counters over the recent window.
type StructureCounts struct {
	HigherHighs int `json:"higher_highs"`
	HigherLows  int `json:"higher_lows"`
	LowerHighs  int `json:"lower_highs"`
	LowerLows   int `json:"lower_lows"`
}

// SwingPoint is one confirmed local extreme.
type SwingPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Kind      string  `json:"kind"` // high or low
}

// RangeSummary describes the traded range of the recent window.
type RangeSummary struct {
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	WidthPct float64 `json:"width_pct"`
}

// PriceAction is the price-action enrichment block.
type PriceAction struct {
	LastBar        *BarShape        `json:"last_bar"`
	Structure      *StructureCounts `json:"structure"`
	SwingPoints    []SwingPoint     `json:"swing_points,omitempty"`
	Range          *RangeSummary    `json:"range,omitempty"`
	BreakoutLevel  *float64         `json:"breakout_level,omitempty"`
	BreakdownLevel *float64         `json:"breakdown_level,omitempty"`
	CandlePatterns []string         `json:"candle_patterns,omitempty"`
}

// SupportResistance lists swing-derived levels around the current price.
type SupportResistance struct {
	Supports    []float64 `json:"supports,omitempty"`
	Resistances []float64 `json:"resistances,omitempty"`
}

const structureWindow = 20

func (e *Enricher) enrichPriceAction(candles []model.Candle) *PriceAction {
	n := len(candles)
	out := &PriceAction{
		LastBar:   barShape(candles[n-1]),
		Structure: structureCounts(candles, structureWindow),
	}

	out.SwingPoints = swingPoints(candles, 2)
	if len(out.SwingPoints) > 10 {
		out.SwingPoints = out.SwingPoints[len(out.SwingPoints)-10:]
	}

	window := candles
	if n > structureWindow {
		window = candles[n-structureWindow:]
	}
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	widthPct := 0.0
	if lo > 0 {
		widthPct = (hi - lo) / lo * 100.0
	}
	out.Range = &RangeSummary{High: hi, Low: lo, WidthPct: widthPct}
	out.BreakoutLevel = fptr(hi)
	out.BreakdownLevel = fptr(lo)

	out.CandlePatterns = candlePatterns(candles)
	return out
}

func (e *Enricher) enrichSupportResistance(candles []model.Candle) *SupportResistance {
	swings := swingPoints(candles, 2)
	price := candles[len(candles)-1].Close

	out := &SupportResistance{}
	for _, s := range swings {
		if s.Kind == "low" && s.Price < price {
			out.Supports = append(out.Supports, s.Price)
		}
		if s.Kind == "high" && s.Price > price {
			out.Resistances = append(out.Resistances, s.Price)
		}
	}
	// keep only the nearest few levels on each side
	out.Supports = nearestLevels(out.Supports, price, 3)
	out.Resistances = nearestLevels(out.Resistances, price, 3)
	if len(out.Supports) == 0 && len(out.Resistances) == 0 {
		return nil
	}
	return out
}

func nearestLevels(levels []float64, price float64, keep int) []float64 {
	for i := 0; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			if math.Abs(levels[j]-price) < math.Abs(levels[i]-price) {
				levels[i], levels[j] = levels[j], levels[i]
			}
		}
	}
	if len(levels) > keep {
		levels = levels[:keep]
	}
	return levels
}

func barShape(c model.Candle) *BarShape {
	r := c.High - c.Low
	shape := &BarShape{Type: "normal"}
	if r <= 0 {
		shape.Type = "flat"
		return shape
	}
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low

	bodyRatio := body / r
	shape.BodyToRange = fptr(bodyRatio)
	shape.UpperWickPct = fptr(upper / r)
	shape.LowerWickPct = fptr(lower / r)

	switch {
	case bodyRatio < 0.1:
		shape.Type = "doji"
	case lower/r > 0.6 && bodyRatio < 0.3:
		shape.Type = "hammer"
	case upper/r > 0.6 && bodyRatio < 0.3:
		shape.Type = "shooting_star"
	case bodyRatio > 0.8:
		shape.Type = "marubozu"
	}

	switch {
	case lower > 2*upper && lower/r > 0.4:
		shape.WickInterpretation = "buyers_rejected_lows"
	case upper > 2*lower && upper/r > 0.4:
		shape.WickInterpretation = "sellers_rejected_highs"
	default:
		shape.WickInterpretation = "balanced"
	}
	return shape
}

func structureCounts(candles []model.Candle, window int) *StructureCounts {
	n := len(candles)
	start := 1
	if n > window {
		start = n - window
	}
	counts := &StructureCounts{}
	for i := start; i < n; i++ {
		prev, cur := candles[i-1], candles[i]
		if cur.High > prev.High {
			counts.HigherHighs++
		} else if cur.High < prev.High {
			counts.LowerHighs++
		}
		if cur.Low > prev.Low {
			counts.HigherLows++
		} else if cur.Low < prev.Low {
			counts.LowerLows++
		}
	}
	return counts
}

// swingPoints finds local extremes confirmed by depth bars on both sides.
func swingPoints(candles []model.Candle, depth int) []SwingPoint {
	var swings []SwingPoint
	for i := depth; i < len(candles)-depth; i++ {
		isHigh, isLow := true, true
		for j := i - depth; j <= i+depth; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			swings = append(swings, SwingPoint{Timestamp: candles[i].Timestamp, Price: candles[i].High, Kind: "high"})
		}
		if isLow {
			swings = append(swings, SwingPoint{Timestamp: candles[i].Timestamp, Price: candles[i].Low, Kind: "low"})
		}
	}
	return swings
}

// candlePatterns inspects the last two bars.
func candlePatterns(candles []model.Candle) []string {
	n := len(candles)
	if n == 0 {
		return nil
	}
	var patterns []string
	last := candles[n-1]
	shape := barShape(last)
	switch shape.Type {
	case "doji", "hammer", "shooting_star":
		patterns = append(patterns, shape.Type)
	}
	if n >= 2 {
		prev := candles[n-2]
		prevBody := math.Abs(prev.Close - prev.Open)
		lastBody := math.Abs(last.Close - last.Open)
		engulfs := lastBody > prevBody &&
			math.Max(last.Open, last.Close) >= math.Max(prev.Open, prev.Close) &&
			math.Min(last.Open, last.Close) <= math.Min(prev.Open, prev.Close)
		if engulfs && last.Close > last.Open && prev.Close < prev.Open {
			patterns = append(patterns, "bullish_engulfing")
		}
		if engulfs && last.Close < last.Open && prev.Close > prev.Open {
			patterns = append(patterns, "bearish_engulfing")
		}
	}
	return patterns
}

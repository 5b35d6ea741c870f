package enrich

import (
	"math"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// Pattern is one detected chart formation.
type Pattern struct {
	Name              string   `json:"name"`
	Type              string   `json:"type"` // continuation or reversal
	Bias              string   `json:"bias"` // bullish, bearish, neutral
	Confidence        float64  `json:"confidence"`
	InvalidationPrice float64  `json:"invalidation_price"`
	TargetIfBreaks    *float64 `json:"target_if_breaks,omitempty"`
	Status            string   `json:"status"` // forming or confirmed
}

// Patterns is the pattern enrichment block.
type Patterns struct {
	Detected        []Pattern `json:"detected"`
	MomentumQuality string    `json:"momentum_quality"` // supporting, weakening, contradicting
}

// noise filter: swings closer than this many ATRs are merged away
const swingNoiseATRs = 0.5

// volume-spike thresholds confirming a break
const (
	volumeSpikeContinuation = 1.2
	volumeSpikeReversal     = 1.4
)

// geometry tolerances, relative to the current price
const (
	doubleExtremeTolerancePct = 0.02 // double top/bottom extremes
	shoulderTolerancePct      = 0.05 // head-and-shoulders shoulders
)

// flag length bounds, in bars between the pole end and the flag swing
const (
	flagMinBars = 5
	flagMaxBars = 15
)

func (e *Enricher) enrichPatterns(candles []model.Candle, ctx *Context) *Patterns {
	out := &Patterns{MomentumQuality: "supporting"}
	if len(candles) < 30 {
		return out
	}

	atr := lastValue(atrSeries(candles, 14))
	if atr == nil || *atr <= 0 {
		return out
	}
	swings := filteredSwings(candles, *atr)
	if len(swings) < 3 {
		return out
	}

	volSpike := volumeSpikeRatio(candles)
	price := candles[len(candles)-1].Close

	detectors := []func([]SwingPoint, float64, float64) *Pattern{
		detectDoubleTopBottom,
		detectHeadAndShoulders,
		detectTriangle,
		detectWedge,
	}
	for _, detect := range detectors {
		if p := detect(swings, price, *atr); p != nil {
			confirmPattern(p, price, *atr, volSpike)
			out.Detected = append(out.Detected, *p)
		}
	}
	// the flag detector also needs the bar spacing to bound the flag length
	if p := detectFlag(swings, price, *atr, ctx.Timeframe.Millis()); p != nil {
		confirmPattern(p, price, *atr, volSpike)
		out.Detected = append(out.Detected, *p)
	}

	out.MomentumQuality = momentumQuality(ctx, out.Detected)
	return out
}

// filteredSwings drops swings whose move from the previous kept swing is
// below the ATR noise floor.
func filteredSwings(candles []model.Candle, atr float64) []SwingPoint {
	raw := swingPoints(candles, 2)
	var kept []SwingPoint
	for _, s := range raw {
		if len(kept) > 0 && math.Abs(s.Price-kept[len(kept)-1].Price) < atr*swingNoiseATRs {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func volumeSpikeRatio(candles []model.Candle) float64 {
	n := len(candles)
	if n < 21 {
		return 1.0
	}
	var sum float64
	for _, c := range candles[n-21 : n-1] {
		sum += c.Volume
	}
	avg := sum / 20.0
	if avg <= 0 {
		return 1.0
	}
	return candles[n-1].Volume / avg
}

// confirmPattern upgrades a forming pattern when price breaks the
// invalidation-opposite side with an ATR buffer and a volume spike.
func confirmPattern(p *Pattern, price, atr, volSpike float64) {
	threshold := volumeSpikeContinuation
	if p.Type == "reversal" {
		threshold = volumeSpikeReversal
	}
	broke := false
	if p.TargetIfBreaks != nil {
		if p.Bias == "bullish" && price > p.InvalidationPrice+atr*0.25 && price < *p.TargetIfBreaks {
			broke = true
		}
		if p.Bias == "bearish" && price < p.InvalidationPrice-atr*0.25 && price > *p.TargetIfBreaks {
			broke = true
		}
	}
	if broke && volSpike >= threshold {
		p.Status = "confirmed"
		p.Confidence = math.Min(p.Confidence+0.2, 0.95)
	}
}

func lastSwings(swings []SwingPoint, n int) []SwingPoint {
	if len(swings) <= n {
		return swings
	}
	return swings[len(swings)-n:]
}

func detectDoubleTopBottom(swings []SwingPoint, price, atr float64) *Pattern {
	s := lastSwings(swings, 3)
	if len(s) < 3 {
		return nil
	}
	a, b, c := s[0], s[1], s[2]
	tol := price * doubleExtremeTolerancePct
	buffer := atr * 0.5

	if a.Kind == "high" && b.Kind == "low" && c.Kind == "high" && math.Abs(a.Price-c.Price) <= tol {
		target := b.Price - (a.Price - b.Price)
		return &Pattern{
			Name: "double_top", Type: "reversal", Bias: "bearish",
			Confidence:        0.55,
			InvalidationPrice: math.Max(a.Price, c.Price) + buffer,
			TargetIfBreaks:    fptr(target),
			Status:            "forming",
		}
	}
	if a.Kind == "low" && b.Kind == "high" && c.Kind == "low" && math.Abs(a.Price-c.Price) <= tol {
		target := b.Price + (b.Price - a.Price)
		return &Pattern{
			Name: "double_bottom", Type: "reversal", Bias: "bullish",
			Confidence:        0.55,
			InvalidationPrice: math.Min(a.Price, c.Price) - buffer,
			TargetIfBreaks:    fptr(target),
			Status:            "forming",
		}
	}
	return nil
}

func detectHeadAndShoulders(swings []SwingPoint, price, atr float64) *Pattern {
	s := lastSwings(swings, 5)
	if len(s) < 5 {
		return nil
	}
	l, head, r := s[0], s[2], s[4]
	neck1, neck2 := s[1], s[3]
	tol := price * shoulderTolerancePct

	if l.Kind == "high" && head.Kind == "high" && r.Kind == "high" &&
		head.Price > l.Price && head.Price > r.Price &&
		math.Abs(l.Price-r.Price) <= tol {
		neckline := (neck1.Price + neck2.Price) / 2
		target := neckline - (head.Price - neckline)
		return &Pattern{
			Name: "head_and_shoulders", Type: "reversal", Bias: "bearish",
			Confidence:        0.5,
			InvalidationPrice: head.Price,
			TargetIfBreaks:    fptr(target),
			Status:            "forming",
		}
	}
	if l.Kind == "low" && head.Kind == "low" && r.Kind == "low" &&
		head.Price < l.Price && head.Price < r.Price &&
		math.Abs(l.Price-r.Price) <= tol {
		neckline := (neck1.Price + neck2.Price) / 2
		target := neckline + (neckline - head.Price)
		return &Pattern{
			Name: "inverse_head_and_shoulders", Type: "reversal", Bias: "bullish",
			Confidence:        0.5,
			InvalidationPrice: head.Price,
			TargetIfBreaks:    fptr(target),
			Status:            "forming",
		}
	}
	return nil
}

// detectTriangle looks at the slopes of the high and low swing envelopes.
func detectTriangle(swings []SwingPoint, price, atr float64) *Pattern {
	highSlope, lowSlope, ok := envelopeSlopes(swings)
	if !ok {
		return nil
	}
	flat := atr * 0.05

	switch {
	case math.Abs(highSlope) <= flat && lowSlope > flat:
		return trianglePattern("ascending_triangle", "bullish", swings, price, atr)
	case math.Abs(lowSlope) <= flat && highSlope < -flat:
		return trianglePattern("descending_triangle", "bearish", swings, price, atr)
	case highSlope < -flat && lowSlope > flat:
		return trianglePattern("symmetrical_triangle", "neutral", swings, price, atr)
	}
	return nil
}

func trianglePattern(name, bias string, swings []SwingPoint, price, atr float64) *Pattern {
	hi, lo := envelopeExtremes(swings)
	p := &Pattern{
		Name: name, Type: "continuation", Bias: bias,
		Confidence: 0.45,
		Status:     "forming",
	}
	height := hi - lo
	switch bias {
	case "bullish":
		p.InvalidationPrice = hi
		p.TargetIfBreaks = fptr(hi + height)
	case "bearish":
		p.InvalidationPrice = lo
		p.TargetIfBreaks = fptr(lo - height)
	default:
		if price >= (hi+lo)/2 {
			p.InvalidationPrice = hi
			p.TargetIfBreaks = fptr(hi + height)
		} else {
			p.InvalidationPrice = lo
			p.TargetIfBreaks = fptr(lo - height)
		}
	}
	return p
}

func detectWedge(swings []SwingPoint, price, atr float64) *Pattern {
	highSlope, lowSlope, ok := envelopeSlopes(swings)
	if !ok {
		return nil
	}
	flat := atr * 0.05

	// both envelopes sloping the same way, converging
	if highSlope > flat && lowSlope > flat && lowSlope > highSlope {
		hi, lo := envelopeExtremes(swings)
		return &Pattern{
			Name: "rising_wedge", Type: "reversal", Bias: "bearish",
			Confidence:        0.4,
			InvalidationPrice: hi,
			TargetIfBreaks:    fptr(lo),
			Status:            "forming",
		}
	}
	if highSlope < -flat && lowSlope < -flat && highSlope < lowSlope {
		hi, lo := envelopeExtremes(swings)
		return &Pattern{
			Name: "falling_wedge", Type: "reversal", Bias: "bullish",
			Confidence:        0.4,
			InvalidationPrice: lo,
			TargetIfBreaks:    fptr(hi),
			Status:            "forming",
		}
	}
	return nil
}

// detectFlag looks for a sharp pole followed by a short counter-drift with
// sane proportions: the flag spans 5–15 bars and retraces less than half
// the pole.
func detectFlag(swings []SwingPoint, price, atr float64, tfMs int64) *Pattern {
	s := lastSwings(swings, 3)
	if len(s) < 3 {
		return nil
	}
	a, b, c := s[0], s[1], s[2]

	pole := b.Price - a.Price
	flag := c.Price - b.Price
	if math.Abs(pole) < atr*3 {
		return nil
	}
	if tfMs > 0 {
		span := (c.Timestamp - b.Timestamp) / tfMs
		if span < flagMinBars || span > flagMaxBars {
			return nil
		}
	}
	if pole > 0 && flag < 0 && math.Abs(flag) < pole*0.5 {
		return &Pattern{
			Name: "bull_flag", Type: "continuation", Bias: "bullish",
			Confidence:        0.5,
			InvalidationPrice: b.Price,
			TargetIfBreaks:    fptr(b.Price + pole),
			Status:            "forming",
		}
	}
	if pole < 0 && flag > 0 && flag < -pole*0.5 {
		return &Pattern{
			Name: "bear_flag", Type: "continuation", Bias: "bearish",
			Confidence:        0.5,
			InvalidationPrice: b.Price,
			TargetIfBreaks:    fptr(b.Price + pole),
			Status:            "forming",
		}
	}
	return nil
}

// envelopeSlopes fits separate regressions through the high swings and the
// low swings, normalized per swing step.
func envelopeSlopes(swings []SwingPoint) (highSlope, lowSlope float64, ok bool) {
	var highs, lows []float64
	for _, s := range lastSwings(swings, 6) {
		if s.Kind == "high" {
			highs = append(highs, s.Price)
		} else {
			lows = append(lows, s.Price)
		}
	}
	if len(highs) < 2 || len(lows) < 2 {
		return 0, 0, false
	}
	return linregSlope(highs), linregSlope(lows), true
}

func envelopeExtremes(swings []SwingPoint) (hi, lo float64) {
	s := lastSwings(swings, 6)
	hi, lo = math.Inf(-1), math.Inf(1)
	for _, p := range s {
		hi = math.Max(hi, p.Price)
		lo = math.Min(lo, p.Price)
	}
	return hi, lo
}

// momentumQuality downgrades pattern reliability when momentum and trend
// indicators lean against the detected bias.
func momentumQuality(ctx *Context, detected []Pattern) string {
	if len(detected) == 0 || ctx.Momentum == nil {
		return "supporting"
	}
	bias := detected[0].Bias
	if bias == "neutral" {
		return "supporting"
	}

	against := 0
	checks := 0
	if ctx.Momentum.RSI != nil && ctx.Momentum.RSI.Divergence != "" && ctx.Momentum.RSI.Divergence != "none" {
		checks++
		if ctx.Momentum.RSI.Divergence != bias {
			against++
		}
	}
	if ctx.Momentum.MACD != nil && ctx.Momentum.MACD.Cross != "" {
		checks++
		if ctx.Momentum.MACD.Cross != bias {
			against++
		}
	}
	if ctx.Trend != nil && ctx.Trend.Direction != "neutral" {
		checks++
		if string(ctx.Trend.Direction) != bias {
			against++
		}
	}

	switch {
	case checks == 0 || against == 0:
		return "supporting"
	case against < checks:
		return "weakening"
	default:
		return "contradicting"
	}
}

// Package compose turns a multi-timeframe enriched context into an
// actionable trading view: direction scenarios with normalized
// probabilities, targets, a stop level and a blended quality score. It is
// a pure function of the orchestrator output.
package compose

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fredrousseau/midas-sub000/internal/enrich"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Scenario is one directional outcome with its normalized probability.
type Scenario struct {
	Direction   string    `json:"direction"`
	Probability float64   `json:"probability"`
	Targets     []float64 `json:"targets,omitempty"`
	Rationale   []string  `json:"rationale,omitempty"`
}

// QualityBreakdown exposes the components of the trade quality score.
type QualityBreakdown struct {
	TrendAlignment float64 `json:"trend_alignment"`
	Momentum       float64 `json:"momentum"`
	Volume         float64 `json:"volume"`
	Pattern        float64 `json:"pattern"`
	RiskReward     float64 `json:"risk_reward"`
}

// TradingContext is the composed output.
type TradingContext struct {
	Symbol            string           `json:"symbol"`
	Bias              string           `json:"bias"`
	Scenarios         []Scenario       `json:"scenarios"`
	StopLoss          *float64         `json:"stop_loss,omitempty"`
	StopSource        string           `json:"stop_source,omitempty"`
	TradeQualityScore float64          `json:"trade_quality_score"`
	Quality           QualityBreakdown `json:"quality"`
	GeneratedAt       int64            `json:"generated_at"`
}

// quality blend weights
const (
	weightTrendAlignment = 0.30
	weightMomentum       = 0.25
	weightVolume         = 0.15
	weightPattern        = 0.15
	weightRiskReward     = 0.15
)

// Compose builds the trading context from the orchestrator output.
func Compose(in *mtf.EnrichedContext) *TradingContext {
	out := &TradingContext{
		Symbol:      in.Symbol,
		GeneratedAt: time.Now().UnixMilli(),
	}
	if in.Alignment == nil || len(in.Contexts) == 0 {
		out.Bias = string(regime.Neutral)
		return out
	}

	htf := highestContext(in)
	ltf := lowestContext(in)

	out.Scenarios = buildScenarios(in, htf)
	out.Bias = string(in.Alignment.DominantDirection)
	out.StopLoss, out.StopSource = stopLevel(ltf, in.Alignment.DominantDirection)
	out.Quality = qualityBreakdown(in, ltf, out)
	out.TradeQualityScore = round4(weightTrendAlignment*out.Quality.TrendAlignment +
		weightMomentum*out.Quality.Momentum +
		weightVolume*out.Quality.Volume +
		weightPattern*out.Quality.Pattern +
		weightRiskReward*out.Quality.RiskReward)
	return out
}

// highestContext returns the longest-duration enriched context.
func highestContext(in *mtf.EnrichedContext) *enrich.Context {
	var best *enrich.Context
	for _, ctx := range in.Contexts {
		if best == nil || ctx.Timeframe.Duration() > best.Timeframe.Duration() {
			best = ctx
		}
	}
	return best
}

func lowestContext(in *mtf.EnrichedContext) *enrich.Context {
	var best *enrich.Context
	for _, ctx := range in.Contexts {
		if best == nil || ctx.Timeframe.Duration() < best.Timeframe.Duration() {
			best = ctx
		}
	}
	return best
}

// buildScenarios converts the alignment buckets plus pattern evidence into
// normalized probabilities with targets and rationale.
func buildScenarios(in *mtf.EnrichedContext, htf *enrich.Context) []Scenario {
	raw := map[string]float64{
		"bullish": in.Alignment.WeightedScores["bullish"],
		"bearish": in.Alignment.WeightedScores["bearish"],
		"neutral": in.Alignment.WeightedScores["neutral"],
	}
	rationale := map[string][]string{}

	for _, s := range in.Alignment.Signals {
		dir := string(s.Direction)
		rationale[dir] = append(rationale[dir],
			fmt.Sprintf("%s regime %s (confidence %.2f)", s.Timeframe, s.Regime, s.Confidence))
	}

	// pattern evidence shifts weight toward its bias
	for _, ctx := range in.Contexts {
		if ctx.MicroPatterns == nil {
			continue
		}
		for _, p := range ctx.MicroPatterns.Detected {
			if p.Bias != "bullish" && p.Bias != "bearish" {
				continue
			}
			boost := p.Confidence * 0.1
			if p.Status == "confirmed" {
				boost = p.Confidence * 0.2
			}
			raw[p.Bias] += boost
			rationale[p.Bias] = append(rationale[p.Bias],
				fmt.Sprintf("%s %s on %s (%s)", p.Status, p.Name, ctx.Timeframe, p.Type))
		}
	}
	if htf.MovingAverages != nil {
		switch htf.MovingAverages.Alignment {
		case "perfect_bullish", "bullish":
			rationale["bullish"] = append(rationale["bullish"],
				fmt.Sprintf("%s MA stack %s", htf.Timeframe, htf.MovingAverages.Alignment))
		case "perfect_bearish", "bearish":
			rationale["bearish"] = append(rationale["bearish"],
				fmt.Sprintf("%s MA stack %s", htf.Timeframe, htf.MovingAverages.Alignment))
		}
	}

	total := raw["bullish"] + raw["bearish"] + raw["neutral"]
	if total <= 0 {
		total = 1
		raw["neutral"] = 1
	}

	scenarios := make([]Scenario, 0, 3)
	for _, dir := range []string{"bullish", "bearish", "neutral"} {
		scenarios = append(scenarios, Scenario{
			Direction:   dir,
			Probability: round4(raw[dir] / total),
			Targets:     targetsFor(dir, htf, in),
			Rationale:   rationale[dir],
		})
	}
	sort.SliceStable(scenarios, func(i, j int) bool {
		return scenarios[i].Probability > scenarios[j].Probability
	})
	return scenarios
}

// targetsFor derives price targets from the highest-timeframe S/R levels
// and any pattern projections pointing the same way.
func targetsFor(direction string, htf *enrich.Context, in *mtf.EnrichedContext) []float64 {
	var targets []float64
	if htf.SupportResistance != nil {
		switch direction {
		case "bullish":
			targets = append(targets, htf.SupportResistance.Resistances...)
		case "bearish":
			targets = append(targets, htf.SupportResistance.Supports...)
		}
	}
	for _, ctx := range in.Contexts {
		if ctx.MicroPatterns == nil {
			continue
		}
		for _, p := range ctx.MicroPatterns.Detected {
			if p.Bias == direction && p.TargetIfBreaks != nil {
				targets = append(targets, *p.TargetIfBreaks)
			}
		}
	}
	sort.Float64s(targets)
	if len(targets) > 3 {
		targets = targets[:3]
	}
	return targets
}

// stopLevel prefers a pattern invalidation price on the execution
// timeframe, falling back to its EMA26.
func stopLevel(ltf *enrich.Context, dir regime.Direction) (*float64, string) {
	if ltf == nil {
		return nil, ""
	}
	if ltf.MicroPatterns != nil {
		for _, p := range ltf.MicroPatterns.Detected {
			if p.Bias == string(dir) {
				v := p.InvalidationPrice
				return &v, "pattern_invalidation"
			}
		}
	}
	if ltf.MovingAverages != nil {
		if level, ok := ltf.MovingAverages.EMA["ema26"]; ok && level.Value != nil {
			return level.Value, "ema26"
		}
	}
	return nil, ""
}

func qualityBreakdown(in *mtf.EnrichedContext, ltf *enrich.Context, out *TradingContext) QualityBreakdown {
	q := QualityBreakdown{
		TrendAlignment: in.Alignment.AlignmentScore,
		Momentum:       0.5,
		Volume:         0.5,
		Pattern:        0.0,
		RiskReward:     0.5,
	}
	dir := string(in.Alignment.DominantDirection)

	if ltf != nil && ltf.Momentum != nil {
		score := 0.5
		if ltf.Momentum.MACD != nil && ltf.Momentum.MACD.Cross == dir {
			score += 0.25
		}
		if ltf.Momentum.RSI != nil && ltf.Momentum.RSI.Trend == "rising" && dir == "bullish" {
			score += 0.25
		}
		if ltf.Momentum.RSI != nil && ltf.Momentum.RSI.Trend == "falling" && dir == "bearish" {
			score += 0.25
		}
		q.Momentum = math.Min(score, 1.0)
	}
	if ltf != nil && ltf.Volume != nil && ltf.Volume.VsAverage != nil {
		// above-average participation supports the move
		q.Volume = clamp01(*ltf.Volume.VsAverage / 2.0)
	}
	for _, ctx := range in.Contexts {
		if ctx.MicroPatterns == nil {
			continue
		}
		for _, p := range ctx.MicroPatterns.Detected {
			if p.Bias == dir && p.Confidence > q.Pattern {
				q.Pattern = p.Confidence
			}
		}
	}
	if out.StopLoss != nil && len(out.Scenarios) > 0 && len(out.Scenarios[0].Targets) > 0 && ltf != nil {
		price := 0.0
		if ltf.MovingAverages != nil {
			if level, ok := ltf.MovingAverages.EMA["ema12"]; ok && level.Value != nil {
				price = *level.Value
			}
		}
		if price > 0 {
			risk := math.Abs(price - *out.StopLoss)
			reward := math.Abs(out.Scenarios[0].Targets[0] - price)
			if risk > 0 {
				// a 2:1 reward-to-risk ratio scores 1.0
				q.RiskReward = clamp01(reward / risk / 2.0)
			}
		}
	}

	q.TrendAlignment = round4(clamp01(q.TrendAlignment))
	q.Momentum = round4(clamp01(q.Momentum))
	q.Volume = round4(clamp01(q.Volume))
	q.Pattern = round4(clamp01(q.Pattern))
	q.RiskReward = round4(clamp01(q.RiskReward))
	return q
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

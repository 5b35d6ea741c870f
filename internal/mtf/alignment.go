package mtf

import (
	"fmt"

	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Signal is one timeframe's contribution to the alignment score.
type Signal struct {
	Timeframe  model.Timeframe  `json:"timeframe"`
	Regime     string           `json:"regime"`
	Direction  regime.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	Weight     float64          `json:"weight"`
}

// Conflict tags a disagreement between timeframes.
type Conflict struct {
	Type        string   `json:"type"`
	Severity    string   `json:"severity"`
	Timeframes  []string `json:"timeframes"`
	Description string   `json:"description"`
}

// Alignment is the weighted cross-timeframe agreement summary.
type Alignment struct {
	Signals           []Signal           `json:"signals"`
	AlignmentScore    float64            `json:"alignment_score"`
	DominantDirection regime.Direction   `json:"dominant_direction"`
	Conflicts         []Conflict         `json:"conflicts"`
	WeightedScores    map[string]float64 `json:"weighted_scores"`
}

// timeframeWeights favor the long end where trend structure lives; the
// middle of the table carries less say.
var timeframeWeights = map[model.Timeframe]float64{
	model.TF1M:  3.0,
	model.TF1w:  3.0,
	model.TF3d:  3.0,
	model.TF1d:  3.0,
	model.TF12h: 2.2,
	model.TF8h:  2.1,
	model.TF6h:  2.0,
	model.TF4h:  2.0,
	model.TF2h:  1.6,
	model.TF1h:  1.5,
	model.TF30m: 1.2,
	model.TF15m: 1.0,
	model.TF5m:  0.8,
	model.TF3m:  0.7,
	model.TF1m:  0.6,
}

const highTimeframeWeight = 2.0

func timeframeWeight(tf model.Timeframe) float64 {
	if w, ok := timeframeWeights[tf]; ok {
		return w
	}
	return 1.0
}

// Align scores how much the per-timeframe signals agree. Each signal adds
// weight × confidence to its direction bucket; the score is the dominant
// bucket over the total weight, so full-confidence unanimity scores 1.
func Align(signals []Signal) *Alignment {
	buckets := map[regime.Direction]float64{
		regime.Bullish: 0,
		regime.Bearish: 0,
		regime.Neutral: 0,
	}
	totalWeight := 0.0
	for _, s := range signals {
		buckets[s.Direction] += s.Weight * s.Confidence
		totalWeight += s.Weight
	}

	dominant := regime.Neutral
	best := buckets[regime.Neutral]
	if buckets[regime.Bullish] > best {
		dominant, best = regime.Bullish, buckets[regime.Bullish]
	}
	if buckets[regime.Bearish] > best {
		dominant, best = regime.Bearish, buckets[regime.Bearish]
	}

	score := 0.0
	if totalWeight > 0 {
		score = best / totalWeight
	}
	if score > 1 {
		score = 1
	}

	// weighted scores normalized to sum 1
	weighted := map[string]float64{"bullish": 0, "bearish": 0, "neutral": 0}
	if sum := buckets[regime.Bullish] + buckets[regime.Bearish] + buckets[regime.Neutral]; sum > 0 {
		weighted["bullish"] = buckets[regime.Bullish] / sum
		weighted["bearish"] = buckets[regime.Bearish] / sum
		weighted["neutral"] = buckets[regime.Neutral] / sum
	}

	return &Alignment{
		Signals:           signals,
		AlignmentScore:    score,
		DominantDirection: dominant,
		Conflicts:         detectConflicts(signals),
		WeightedScores:    weighted,
	}
}

func detectConflicts(signals []Signal) []Conflict {
	var conflicts []Conflict

	// heavyweight pair disagreeing
	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			a, b := signals[i], signals[j]
			if a.Weight >= highTimeframeWeight && b.Weight >= highTimeframeWeight && opposed(a.Direction, b.Direction) {
				conflicts = append(conflicts, Conflict{
					Type:       "high_timeframe_conflict",
					Severity:   "high",
					Timeframes: []string{a.Timeframe.String(), b.Timeframe.String()},
					Description: fmt.Sprintf("%s is %s while %s is %s",
						a.Timeframe, a.Direction, b.Timeframe, b.Direction),
				})
			}
		}
	}

	// general directional split
	var bullTFs, bearTFs []string
	for _, s := range signals {
		switch s.Direction {
		case regime.Bullish:
			bullTFs = append(bullTFs, s.Timeframe.String())
		case regime.Bearish:
			bearTFs = append(bearTFs, s.Timeframe.String())
		}
	}
	if len(bullTFs) > 0 && len(bearTFs) > 0 {
		severity := "low"
		if len(bullTFs) >= 2 && len(bearTFs) >= 2 {
			severity = "moderate"
		}
		conflicts = append(conflicts, Conflict{
			Type:        "directional_conflict",
			Severity:    severity,
			Timeframes:  append(append([]string{}, bullTFs...), bearTFs...),
			Description: fmt.Sprintf("%d bullish vs %d bearish timeframe(s)", len(bullTFs), len(bearTFs)),
		})
	}

	// highest timeframe against any lower one
	if len(signals) >= 2 {
		htf := signals[0]
		for _, s := range signals[1:] {
			if s.Timeframe.Duration() > htf.Timeframe.Duration() {
				htf = s
			}
		}
		for _, s := range signals {
			if s.Timeframe == htf.Timeframe {
				continue
			}
			if opposed(htf.Direction, s.Direction) {
				conflicts = append(conflicts, Conflict{
					Type:       "htf_ltf_divergence",
					Severity:   "low",
					Timeframes: []string{htf.Timeframe.String(), s.Timeframe.String()},
					Description: fmt.Sprintf("higher timeframe %s %s diverges from %s %s",
						htf.Timeframe, htf.Direction, s.Timeframe, s.Direction),
				})
			}
		}
	}
	return conflicts
}

func opposed(a, b regime.Direction) bool {
	return (a == regime.Bullish && b == regime.Bearish) ||
		(a == regime.Bearish && b == regime.Bullish)
}

package enrich

import (
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// RSIView is the RSI enrichment sub-block.
type RSIView struct {
	Value        *float64 `json:"value"`
	Percentile20 *float64 `json:"percentile_20,omitempty"`
	Percentile50 *float64 `json:"percentile_50,omitempty"`
	Trend        string   `json:"trend,omitempty"`
	Divergence   string   `json:"divergence,omitempty"`
	VsHigherTF   string   `json:"vs_higher_tf,omitempty"`
}

// MACDView is the MACD enrichment sub-block.
type MACDView struct {
	Line           *float64 `json:"line"`
	Signal         *float64 `json:"signal"`
	Histogram      *float64 `json:"histogram"`
	HistogramTrend string   `json:"histogram_trend,omitempty"`
	Cross          string   `json:"cross,omitempty"`
	BarsSinceCross int      `json:"bars_since_cross,omitempty"`
	Divergence     string   `json:"divergence,omitempty"`
}

// StochasticView interprets the %K/%D pair.
type StochasticView struct {
	K    *float64 `json:"k"`
	D    *float64 `json:"d"`
	Zone string   `json:"zone,omitempty"`
}

// Momentum is the momentum enrichment block.
type Momentum struct {
	RSI        *RSIView        `json:"rsi,omitempty"`
	MACD       *MACDView       `json:"macd,omitempty"`
	Stochastic *StochasticView `json:"stochastic,omitempty"`
	ROC5       *float64        `json:"roc_5,omitempty"`
	ROC10      *float64        `json:"roc_10,omitempty"`
}

func (e *Enricher) enrichMomentum(candles []model.Candle, htf *HTFState) *Momentum {
	closes := closeSeries(candles)
	out := &Momentum{}

	out.RSI = rsiView(closes, htf)
	out.MACD = macdView(closes)
	out.Stochastic = stochasticView(candles)
	out.ROC5 = rocValue(closes, 5)
	out.ROC10 = rocValue(closes, 10)
	return out
}

func rsiView(closes []float64, htf *HTFState) *RSIView {
	series := rsiSeries(closes, 14)
	current := lastValue(series)
	if current == nil {
		return &RSIView{}
	}
	view := &RSIView{Value: current}

	if w := tailValues(series, 20); len(w) >= 10 {
		view.Percentile20 = fptr(percentileOf(w, *current))
	}
	if w := tailValues(series, 50); len(w) >= 25 {
		view.Percentile50 = fptr(percentileOf(w, *current))
	}
	if w := tailValues(series, 5); len(w) >= 3 {
		slope := linregSlope(w)
		switch {
		case slope > 0.5:
			view.Trend = "rising"
		case slope < -0.5:
			view.Trend = "falling"
		default:
			view.Trend = "flat"
		}
	}
	view.Divergence = divergence(closes, series, 20)
	if htf != nil && htf.RSI != nil {
		switch {
		case *current > *htf.RSI+5:
			view.VsHigherTF = "heating"
		case *current < *htf.RSI-5:
			view.VsHigherTF = "cooling"
		default:
			view.VsHigherTF = "in_line"
		}
	}
	return view
}

func macdView(closes []float64) *MACDView {
	macd := indicators.NewMACD(12, 26, 9)
	n := len(closes)
	lines := make([]*float64, n)
	signals := make([]*float64, n)
	hist := make([]*float64, n)
	for i, c := range closes {
		macd.UpdateValue(c)
		if macd.Stable() {
			lines[i] = fptr(macd.Line())
			signals[i] = fptr(macd.Signal())
			hist[i] = fptr(macd.Histogram())
		}
	}
	view := &MACDView{
		Line:      lastValue(lines),
		Signal:    lastValue(signals),
		Histogram: lastValue(hist),
	}
	if view.Histogram == nil {
		return view
	}

	if w := tailValues(hist, 5); len(w) >= 3 {
		slope := linregSlope(w)
		switch {
		case slope > 0:
			view.HistogramTrend = "expanding_bullish"
			if w[len(w)-1] < 0 {
				view.HistogramTrend = "contracting_bearish"
			}
		case slope < 0:
			view.HistogramTrend = "expanding_bearish"
			if w[len(w)-1] > 0 {
				view.HistogramTrend = "contracting_bullish"
			}
		default:
			view.HistogramTrend = "flat"
		}
	}
	if cross := detectCross(lines, signals); cross != nil {
		if cross.Direction == "golden" {
			view.Cross = "bullish"
		} else {
			view.Cross = "bearish"
		}
		view.BarsSinceCross = cross.BarsSince
	}
	view.Divergence = divergence(closes, lines, 20)
	return view
}

func stochasticView(candles []model.Candle) *StochasticView {
	st := indicators.NewStochastic(14, 3, 3)
	for _, c := range candles {
		st.Update(c.High, c.Low, c.Close)
	}
	if !st.Stable() {
		return &StochasticView{}
	}
	k, d := st.K(), st.D()
	view := &StochasticView{K: fptr(k), D: fptr(d)}
	switch {
	case k >= 80:
		view.Zone = "overbought"
	case k <= 20:
		view.Zone = "oversold"
	case k > d:
		view.Zone = "bullish"
	default:
		view.Zone = "bearish"
	}
	return view
}

func rocValue(closes []float64, period int) *float64 {
	roc := indicators.NewROC(period)
	for _, c := range closes {
		roc.UpdateValue(c)
	}
	if !roc.Stable() {
		return nil
	}
	return fptr(roc.Value())
}

// divergence compares price and oscillator extremes over the last window
// bars: higher price high with a lower oscillator high is bearish, lower
// price low with a higher oscillator low bullish.
func divergence(closes []float64, osc []*float64, window int) string {
	if len(closes) < window || len(osc) != len(closes) {
		return ""
	}
	start := len(closes) - window
	half := start + window/2

	priceHi1, oscHi1 := maxWith(closes, osc, start, half)
	priceHi2, oscHi2 := maxWith(closes, osc, half, len(closes))
	priceLo1, oscLo1 := minWith(closes, osc, start, half)
	priceLo2, oscLo2 := minWith(closes, osc, half, len(closes))

	if oscHi1 != nil && oscHi2 != nil && priceHi2 > priceHi1 && *oscHi2 < *oscHi1 {
		return "bearish"
	}
	if oscLo1 != nil && oscLo2 != nil && priceLo2 < priceLo1 && *oscLo2 > *oscLo1 {
		return "bullish"
	}
	return "none"
}

func maxWith(closes []float64, osc []*float64, from, to int) (float64, *float64) {
	best, idx := closes[from], from
	for i := from + 1; i < to; i++ {
		if closes[i] > best {
			best, idx = closes[i], i
		}
	}
	return best, osc[idx]
}

func minWith(closes []float64, osc []*float64, from, to int) (float64, *float64) {
	best, idx := closes[from], from
	for i := from + 1; i < to; i++ {
		if closes[i] < best {
			best, idx = closes[i], i
		}
	}
	return best, osc[idx]
}

package enrich

import (
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// ATRView is the ATR enrichment sub-block.
type ATRView struct {
	Value        *float64 `json:"value"`
	Percentile50 *float64 `json:"percentile_50,omitempty"`
	Trend        string   `json:"trend,omitempty"`
	// VsHigherTF compares the ATR against the higher timeframe's, scaled by
	// the actual duration ratio between the two timeframes.
	VsHigherTF *float64 `json:"vs_higher_tf,omitempty"`
}

// BollingerView is the Bollinger Bands enrichment sub-block.
type BollingerView struct {
	Upper           *float64 `json:"upper"`
	Middle          *float64 `json:"middle"`
	Lower           *float64 `json:"lower"`
	PositionInBands *float64 `json:"position_in_bands,omitempty"`
	WidthPercentile *float64 `json:"width_percentile,omitempty"`
	Squeeze         bool     `json:"squeeze"`
	PostSqueeze     bool     `json:"post_squeeze_expansion"`
}

// Volatility is the volatility enrichment block.
type Volatility struct {
	ATR       *ATRView       `json:"atr,omitempty"`
	Bollinger *BollingerView `json:"bollinger,omitempty"`
	ATRRatio  *float64       `json:"atr_ratio,omitempty"`
}

const squeezeWidthPercentile = 0.30

func (e *Enricher) enrichVolatility(candles []model.Candle, tf model.Timeframe, htf *HTFState) *Volatility {
	out := &Volatility{}

	atrShort := atrSeries(candles, 14)
	atrLong := atrSeries(candles, 50)
	out.ATR = atrView(atrShort, tf, htf)
	if s, l := lastValue(atrShort), lastValue(atrLong); s != nil && l != nil && *l > 0 {
		out.ATRRatio = fptr(*s / *l)
	}
	out.Bollinger = bollingerView(candles)
	return out
}

func atrView(series []*float64, tf model.Timeframe, htf *HTFState) *ATRView {
	current := lastValue(series)
	if current == nil {
		return &ATRView{}
	}
	view := &ATRView{Value: current}

	if w := tailValues(series, 50); len(w) >= 25 {
		view.Percentile50 = fptr(percentileOf(w, *current))
	}
	if w := tailValues(series, 10); len(w) >= 5 {
		slope := linregSlope(w)
		switch {
		case slope > 0:
			view.Trend = "expanding"
		case slope < 0:
			view.Trend = "contracting"
		default:
			view.Trend = "stable"
		}
	}
	if htf != nil && htf.ATR != nil && *htf.ATR > 0 {
		// volatility roughly scales with the square root of duration, so the
		// raw duration ratio is the conservative normalizer
		ratio := float64(htf.Timeframe.Millis()) / float64(tf.Millis())
		if ratio > 0 {
			view.VsHigherTF = fptr(*current * ratio / *htf.ATR)
		}
	}
	return view
}

func bollingerView(candles []model.Candle) *BollingerView {
	bb := indicators.NewBollinger(20, 2.0)
	n := len(candles)
	widths := make([]*float64, n)
	var upper, middle, lower *float64
	for i, c := range candles {
		bb.UpdateValue(c.Close)
		if !bb.Stable() {
			continue
		}
		m, u, l := bb.Bands()
		if m != 0 {
			widths[i] = fptr((u - l) / m)
		}
		if i == n-1 {
			middle, upper, lower = fptr(m), fptr(u), fptr(l)
		}
	}
	view := &BollingerView{Upper: upper, Middle: middle, Lower: lower}
	if upper == nil || lower == nil {
		return view
	}

	price := candles[n-1].Close
	if span := *upper - *lower; span > 0 {
		view.PositionInBands = fptr((price - *lower) / span)
	}

	currentWidth := lastValue(widths)
	if w := tailValues(widths, 50); len(w) >= 25 && currentWidth != nil {
		pct := percentileOf(w, *currentWidth)
		view.WidthPercentile = fptr(pct)
		view.Squeeze = pct < squeezeWidthPercentile
		// expansion right after a squeeze: previous width percentile was in
		// squeeze territory while the current one is not
		if !view.Squeeze && len(w) >= 2 {
			prev := percentileOf(w, w[len(w)-2])
			view.PostSqueeze = prev < squeezeWidthPercentile
		}
	}
	return view
}

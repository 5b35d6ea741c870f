package enrich

import (
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// Volume is the volume enrichment block.
type Volume struct {
	Current       *float64 `json:"current"`
	Average20     *float64 `json:"average_20,omitempty"`
	VsAverage     *float64 `json:"vs_average,omitempty"`
	OBVTrend      string   `json:"obv_trend,omitempty"`
	OBVDivergence string   `json:"obv_divergence,omitempty"`
	VWAPPosition  string   `json:"vwap_position,omitempty"`
	VWAP          *float64 `json:"vwap,omitempty"`
}

func (e *Enricher) enrichVolume(candles []model.Candle) *Volume {
	n := len(candles)
	current := candles[n-1].Volume
	out := &Volume{Current: fptr(current)}

	volumes := make([]float64, n)
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	if avg := lastValue(smaSeries(volumes, 20)); avg != nil {
		out.Average20 = avg
		if *avg > 0 {
			out.VsAverage = fptr(current / *avg)
		}
	}

	obv := indicators.NewOBV()
	obvValues := make([]*float64, n)
	for i, c := range candles {
		obv.Update(c.Close, c.Volume)
		if obv.Stable() {
			obvValues[i] = fptr(obv.Value())
		}
	}
	if w := tailValues(obvValues, 10); len(w) >= 5 {
		slope := linregSlope(w)
		switch {
		case slope > 0:
			out.OBVTrend = "accumulating"
		case slope < 0:
			out.OBVTrend = "distributing"
		default:
			out.OBVTrend = "flat"
		}
	}
	out.OBVDivergence = divergence(closeSeries(candles), obvValues, 20)

	vwap := indicators.NewVWAP()
	for _, c := range candles {
		vwap.Update(c.High, c.Low, c.Close, c.Volume)
	}
	if vwap.Stable() {
		v := vwap.Value()
		out.VWAP = fptr(v)
		if candles[n-1].Close > v {
			out.VWAPPosition = "above"
		} else {
			out.VWAPPosition = "below"
		}
	}
	return out
}

package indicators

import "github.com/fredrousseau/midas-sub000/internal/model"

// OBV is On-Balance Volume: cumulative volume signed by close direction.
type OBV struct {
	count     int
	prevClose float64
	current   float64
}

// NewOBV creates an OBV calculator.
func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Update(close, volume float64) {
	o.count++
	if o.count == 1 {
		o.prevClose = close
		return
	}
	switch {
	case close > o.prevClose:
		o.current += volume
	case close < o.prevClose:
		o.current -= volume
	}
	o.prevClose = close
}

func (o *OBV) Value() float64 { return o.current }
func (o *OBV) Stable() bool   { return o.count >= 2 }

type obvIndicator struct{ obv *OBV }

func newOBVIndicator(Config) Indicator { return &obvIndicator{obv: NewOBV()} }

func (i *obvIndicator) Update(c model.Candle) { i.obv.Update(c.Close, c.Volume) }
func (i *obvIndicator) Stable() bool          { return i.obv.Stable() }
func (i *obvIndicator) Snapshot() map[string]*float64 {
	if !i.obv.Stable() {
		return map[string]*float64{"obv": nil}
	}
	return map[string]*float64{"obv": ptr(i.obv.Value())}
}

// VWAP is the cumulative volume-weighted average of the typical price over
// the processed stream.
type VWAP struct {
	count     int
	cumPV     float64
	cumVolume float64
}

// NewVWAP creates a VWAP calculator.
func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Update(high, low, close, volume float64) {
	v.count++
	typical := (high + low + close) / 3.0
	v.cumPV += typical * volume
	v.cumVolume += volume
}

func (v *VWAP) Value() float64 {
	if v.cumVolume == 0 {
		return 0
	}
	return v.cumPV / v.cumVolume
}

func (v *VWAP) Stable() bool { return v.count >= 1 && v.cumVolume > 0 }

type vwapIndicator struct{ vwap *VWAP }

func newVWAPIndicator(Config) Indicator { return &vwapIndicator{vwap: NewVWAP()} }

func (i *vwapIndicator) Update(c model.Candle) { i.vwap.Update(c.High, c.Low, c.Close, c.Volume) }
func (i *vwapIndicator) Stable() bool          { return i.vwap.Stable() }
func (i *vwapIndicator) Snapshot() map[string]*float64 {
	if !i.vwap.Stable() {
		return map[string]*float64{"vwap": nil}
	}
	return map[string]*float64{"vwap": ptr(i.vwap.Value())}
}

package indicators

import (
	"math"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// ATR is the Average True Range with Wilder smoothing.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates an ATR calculator.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(high, low, close float64) {
	a.count++
	tr := high - low
	if a.count > 1 {
		tr = math.Max(tr, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.prevClose = close

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
		}
		return
	}
	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Stable() bool   { return a.count >= a.period }

type atrIndicator struct{ atr *ATR }

func newATRIndicator(cfg Config) Indicator {
	return &atrIndicator{atr: NewATR(cfg.Int("period", 14))}
}

func (i *atrIndicator) Update(c model.Candle) { i.atr.Update(c.High, c.Low, c.Close) }
func (i *atrIndicator) Stable() bool          { return i.atr.Stable() }
func (i *atrIndicator) Snapshot() map[string]*float64 {
	if !i.atr.Stable() {
		return map[string]*float64{"atr": nil}
	}
	return map[string]*float64{"atr": ptr(i.atr.Value())}
}

// Bollinger emits the middle SMA, the bands at stdDev standard deviations
// and the normalized band width.
type Bollinger struct {
	period int
	stdDev float64
	window []float64
	count  int
}

// NewBollinger creates a Bollinger Bands calculator.
func NewBollinger(period int, stdDev float64) *Bollinger {
	return &Bollinger{period: period, stdDev: stdDev}
}

func (b *Bollinger) UpdateValue(price float64) {
	b.count++
	b.window = append(b.window, price)
	if len(b.window) > b.period {
		b.window = b.window[1:]
	}
}

// Bands returns the middle SMA and the upper/lower bands for the current
// window.
func (b *Bollinger) Bands() (middle, upper, lower float64) {
	n := float64(len(b.window))
	if n == 0 {
		return 0, 0, 0
	}
	var sum float64
	for _, v := range b.window {
		sum += v
	}
	mean := sum / n
	var variance float64
	for _, v := range b.window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / n)
	return mean, mean + b.stdDev*sd, mean - b.stdDev*sd
}

func (b *Bollinger) Stable() bool { return b.count >= b.period }

type bollingerIndicator struct{ bb *Bollinger }

func newBollingerIndicator(cfg Config) Indicator {
	return &bollingerIndicator{bb: NewBollinger(
		cfg.Int("period", 20),
		cfg.Float("std_dev", 2.0),
	)}
}

func (i *bollingerIndicator) Update(c model.Candle) { i.bb.UpdateValue(c.Close) }
func (i *bollingerIndicator) Stable() bool          { return i.bb.Stable() }
func (i *bollingerIndicator) Snapshot() map[string]*float64 {
	if !i.bb.Stable() {
		return map[string]*float64{
			"bb_upper": nil, "bb_middle": nil, "bb_lower": nil, "bb_width": nil,
		}
	}
	middle, upper, lower := i.bb.Bands()
	width := 0.0
	if middle != 0 {
		width = (upper - lower) / middle
	}
	return map[string]*float64{
		"bb_upper":  ptr(upper),
		"bb_middle": ptr(middle),
		"bb_lower":  ptr(lower),
		"bb_width":  ptr(width),
	}
}

package indicators

import (
	"math"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// ADX is the Average Directional Index with +DI/−DI, Wilder-smoothed.
// It stabilizes after roughly two periods: one to seed the smoothed TR/DM
// accumulators and another to seed the DX average.
type ADX struct {
	period     int
	count      int
	prevHigh   float64
	prevLow    float64
	prevClose  float64
	smoothTR   float64
	smoothPlus float64
	smoothMin  float64
	adx        float64
	dxCount    int
	dxSum      float64
}

// NewADX creates an ADX calculator.
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Update(high, low, close float64) {
	a.count++
	if a.count == 1 {
		a.prevHigh, a.prevLow, a.prevClose = high, low, close
		return
	}

	upMove := high - a.prevHigh
	downMove := a.prevLow - low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := math.Max(high-low, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	a.prevHigh, a.prevLow, a.prevClose = high, low, close

	p := float64(a.period)
	if a.count <= a.period+1 {
		a.smoothTR += tr
		a.smoothPlus += plusDM
		a.smoothMin += minusDM
		if a.count < a.period+1 {
			return
		}
	} else {
		a.smoothTR = a.smoothTR - a.smoothTR/p + tr
		a.smoothPlus = a.smoothPlus - a.smoothPlus/p + plusDM
		a.smoothMin = a.smoothMin - a.smoothMin/p + minusDM
	}

	dx := a.dx()
	a.dxCount++
	if a.dxCount <= a.period {
		a.dxSum += dx
		if a.dxCount == a.period {
			a.adx = a.dxSum / p
		}
		return
	}
	a.adx = (a.adx*(p-1) + dx) / p
}

func (a *ADX) dx() float64 {
	plusDI := a.PlusDI()
	minusDI := a.MinusDI()
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return math.Abs(plusDI-minusDI) / sum * 100.0
}

func (a *ADX) PlusDI() float64 {
	if a.smoothTR == 0 {
		return 0
	}
	return a.smoothPlus / a.smoothTR * 100.0
}

func (a *ADX) MinusDI() float64 {
	if a.smoothTR == 0 {
		return 0
	}
	return a.smoothMin / a.smoothTR * 100.0
}

func (a *ADX) Value() float64 { return a.adx }
func (a *ADX) Stable() bool   { return a.dxCount >= a.period }

type adxIndicator struct{ adx *ADX }

func newADXIndicator(cfg Config) Indicator {
	return &adxIndicator{adx: NewADX(cfg.Int("period", 14))}
}

func (i *adxIndicator) Update(c model.Candle) { i.adx.Update(c.High, c.Low, c.Close) }
func (i *adxIndicator) Stable() bool          { return i.adx.Stable() }
func (i *adxIndicator) Snapshot() map[string]*float64 {
	if !i.adx.Stable() {
		return map[string]*float64{"adx": nil, "plus_di": nil, "minus_di": nil}
	}
	return map[string]*float64{
		"adx":      ptr(i.adx.Value()),
		"plus_di":  ptr(i.adx.PlusDI()),
		"minus_di": ptr(i.adx.MinusDI()),
	}
}

// EfficiencyRatio is Kaufman's ER: net change over the sum of absolute
// per-bar changes across the window, in [0, 1].
type EfficiencyRatio struct {
	period int
	window []float64
	count  int
}

// NewEfficiencyRatio creates an ER calculator.
func NewEfficiencyRatio(period int) *EfficiencyRatio {
	return &EfficiencyRatio{period: period}
}

func (e *EfficiencyRatio) UpdateValue(price float64) {
	e.count++
	e.window = append(e.window, price)
	if len(e.window) > e.period+1 {
		e.window = e.window[1:]
	}
}

func (e *EfficiencyRatio) Value() float64 {
	if len(e.window) <= e.period {
		return 0
	}
	net := math.Abs(e.window[len(e.window)-1] - e.window[0])
	var noise float64
	for i := 1; i < len(e.window); i++ {
		noise += math.Abs(e.window[i] - e.window[i-1])
	}
	if noise == 0 {
		return 0
	}
	return net / noise
}

func (e *EfficiencyRatio) Stable() bool { return e.count > e.period }

type erIndicator struct{ er *EfficiencyRatio }

func newERIndicator(cfg Config) Indicator {
	return &erIndicator{er: NewEfficiencyRatio(cfg.Int("period", 10))}
}

func (i *erIndicator) Update(c model.Candle) { i.er.UpdateValue(c.Close) }
func (i *erIndicator) Stable() bool          { return i.er.Stable() }
func (i *erIndicator) Snapshot() map[string]*float64 {
	if !i.er.Stable() {
		return map[string]*float64{"efficiency_ratio": nil}
	}
	return map[string]*float64{"efficiency_ratio": ptr(i.er.Value())}
}

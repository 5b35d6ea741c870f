package indicators

import "github.com/fredrousseau/midas-sub000/internal/model"

// EMA is an exponential moving average seeded with an SMA of the first
// period closes.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA calculator.
func NewEMA(period int) *EMA {
	return &EMA{period: period, multiplier: 2.0 / float64(period+1)}
}

// UpdateValue feeds a raw value rather than a candle close. Used when an
// EMA smooths another indicator's output.
func (e *EMA) UpdateValue(price float64) {
	e.count++
	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Stable() bool   { return e.count >= e.period }

type emaIndicator struct {
	key string
	ema *EMA
}

func newEMAIndicator(cfg Config) Indicator {
	return &emaIndicator{key: "ema", ema: NewEMA(cfg.Int("period", 20))}
}

func (i *emaIndicator) Update(c model.Candle) { i.ema.UpdateValue(c.Close) }
func (i *emaIndicator) Stable() bool          { return i.ema.Stable() }
func (i *emaIndicator) Snapshot() map[string]*float64 {
	if !i.ema.Stable() {
		return map[string]*float64{i.key: nil}
	}
	return map[string]*float64{i.key: ptr(i.ema.Value())}
}

// SMA is a simple moving average over a rolling window.
type SMA struct {
	period int
	window []float64
	sum    float64
	count  int
}

// NewSMA creates an SMA calculator.
func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, 0, period)}
}

func (s *SMA) UpdateValue(price float64) {
	s.count++
	s.window = append(s.window, price)
	s.sum += price
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

func (s *SMA) Value() float64 {
	if len(s.window) == 0 {
		return 0
	}
	return s.sum / float64(len(s.window))
}

func (s *SMA) Stable() bool { return s.count >= s.period }

type smaIndicator struct {
	sma *SMA
}

func newSMAIndicator(cfg Config) Indicator {
	return &smaIndicator{sma: NewSMA(cfg.Int("period", 20))}
}

func (i *smaIndicator) Update(c model.Candle) { i.sma.UpdateValue(c.Close) }
func (i *smaIndicator) Stable() bool          { return i.sma.Stable() }
func (i *smaIndicator) Snapshot() map[string]*float64 {
	if !i.sma.Stable() {
		return map[string]*float64{"sma": nil}
	}
	return map[string]*float64{"sma": ptr(i.sma.Value())}
}

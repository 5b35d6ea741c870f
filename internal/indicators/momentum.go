package indicators

import "github.com/fredrousseau/midas-sub000/internal/model"

// RSI implements the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates an RSI calculator.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) UpdateValue(price float64) {
	r.count++
	if r.count == 1 {
		r.prevClose = price
		return
	}
	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFromAverages(r.avgGain, r.avgLoss)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFromAverages(r.avgGain, r.avgLoss)
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Stable() bool   { return r.count > r.period }

type rsiIndicator struct{ rsi *RSI }

func newRSIIndicator(cfg Config) Indicator {
	return &rsiIndicator{rsi: NewRSI(cfg.Int("period", 14))}
}

func (i *rsiIndicator) Update(c model.Candle) { i.rsi.UpdateValue(c.Close) }
func (i *rsiIndicator) Stable() bool          { return i.rsi.Stable() }
func (i *rsiIndicator) Snapshot() map[string]*float64 {
	if !i.rsi.Stable() {
		return map[string]*float64{"rsi": nil}
	}
	return map[string]*float64{"rsi": ptr(i.rsi.Value())}
}

// MACD emits the MACD line, its signal EMA and the histogram.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD calculator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) UpdateValue(price float64) {
	m.fast.UpdateValue(price)
	m.slow.UpdateValue(price)
	if m.fast.Stable() && m.slow.Stable() {
		m.signal.UpdateValue(m.fast.Value() - m.slow.Value())
	}
}

func (m *MACD) Line() float64      { return m.fast.Value() - m.slow.Value() }
func (m *MACD) Signal() float64    { return m.signal.Value() }
func (m *MACD) Histogram() float64 { return m.Line() - m.Signal() }
func (m *MACD) Stable() bool       { return m.signal.Stable() }

type macdIndicator struct{ macd *MACD }

func newMACDIndicator(cfg Config) Indicator {
	return &macdIndicator{macd: NewMACD(
		cfg.Int("fast_period", 12),
		cfg.Int("slow_period", 26),
		cfg.Int("signal_period", 9),
	)}
}

func (i *macdIndicator) Update(c model.Candle) { i.macd.UpdateValue(c.Close) }
func (i *macdIndicator) Stable() bool          { return i.macd.Stable() }
func (i *macdIndicator) Snapshot() map[string]*float64 {
	if !i.macd.Stable() {
		return map[string]*float64{"macd": nil, "macd_signal": nil, "macd_histogram": nil}
	}
	return map[string]*float64{
		"macd":           ptr(i.macd.Line()),
		"macd_signal":    ptr(i.macd.Signal()),
		"macd_histogram": ptr(i.macd.Histogram()),
	}
}

// Stochastic is the %K/%D oscillator over a rolling high/low window with
// SMA smoothing on both lines.
type Stochastic struct {
	kPeriod int
	highs   []float64
	lows    []float64
	smoothK *SMA
	d       *SMA
	count   int
}

// NewStochastic creates a stochastic oscillator.
func NewStochastic(kPeriod, smooth, dPeriod int) *Stochastic {
	return &Stochastic{
		kPeriod: kPeriod,
		smoothK: NewSMA(smooth),
		d:       NewSMA(dPeriod),
	}
}

func (s *Stochastic) Update(high, low, close float64) {
	s.count++
	s.highs = append(s.highs, high)
	s.lows = append(s.lows, low)
	if len(s.highs) > s.kPeriod {
		s.highs = s.highs[1:]
		s.lows = s.lows[1:]
	}
	if len(s.highs) < s.kPeriod {
		return
	}
	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < len(s.highs); i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}
	rawK := 50.0
	if hh != ll {
		rawK = (close - ll) / (hh - ll) * 100.0
	}
	s.smoothK.UpdateValue(rawK)
	if s.smoothK.Stable() {
		s.d.UpdateValue(s.smoothK.Value())
	}
}

func (s *Stochastic) K() float64   { return s.smoothK.Value() }
func (s *Stochastic) D() float64   { return s.d.Value() }
func (s *Stochastic) Stable() bool { return s.d.Stable() }

type stochasticIndicator struct{ st *Stochastic }

func newStochasticIndicator(cfg Config) Indicator {
	return &stochasticIndicator{st: NewStochastic(
		cfg.Int("k_period", 14),
		cfg.Int("smooth", 3),
		cfg.Int("d_period", 3),
	)}
}

func (i *stochasticIndicator) Update(c model.Candle) { i.st.Update(c.High, c.Low, c.Close) }
func (i *stochasticIndicator) Stable() bool          { return i.st.Stable() }
func (i *stochasticIndicator) Snapshot() map[string]*float64 {
	if !i.st.Stable() {
		return map[string]*float64{"stoch_k": nil, "stoch_d": nil}
	}
	return map[string]*float64{"stoch_k": ptr(i.st.K()), "stoch_d": ptr(i.st.D())}
}

// StochRSI applies the stochastic formula to an RSI stream.
type StochRSI struct {
	rsi         *RSI
	stochPeriod int
	rsiWindow   []float64
	k           *SMA
	d           *SMA
}

// NewStochRSI creates a stochastic-RSI calculator.
func NewStochRSI(rsiPeriod, stochPeriod, kSmooth, dSmooth int) *StochRSI {
	return &StochRSI{
		rsi:         NewRSI(rsiPeriod),
		stochPeriod: stochPeriod,
		k:           NewSMA(kSmooth),
		d:           NewSMA(dSmooth),
	}
}

func (s *StochRSI) UpdateValue(price float64) {
	s.rsi.UpdateValue(price)
	if !s.rsi.Stable() {
		return
	}
	s.rsiWindow = append(s.rsiWindow, s.rsi.Value())
	if len(s.rsiWindow) > s.stochPeriod {
		s.rsiWindow = s.rsiWindow[1:]
	}
	if len(s.rsiWindow) < s.stochPeriod {
		return
	}
	hi, lo := s.rsiWindow[0], s.rsiWindow[0]
	for _, v := range s.rsiWindow[1:] {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	raw := 0.0
	if hi != lo {
		raw = (s.rsi.Value() - lo) / (hi - lo)
	}
	s.k.UpdateValue(raw)
	if s.k.Stable() {
		s.d.UpdateValue(s.k.Value())
	}
}

func (s *StochRSI) Raw() float64 {
	if len(s.rsiWindow) < s.stochPeriod {
		return 0
	}
	hi, lo := s.rsiWindow[0], s.rsiWindow[0]
	for _, v := range s.rsiWindow[1:] {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if hi == lo {
		return 0
	}
	return (s.rsi.Value() - lo) / (hi - lo)
}

func (s *StochRSI) K() float64   { return s.k.Value() }
func (s *StochRSI) D() float64   { return s.d.Value() }
func (s *StochRSI) Stable() bool { return s.d.Stable() }

type stochRSIIndicator struct{ st *StochRSI }

func newStochRSIIndicator(cfg Config) Indicator {
	return &stochRSIIndicator{st: NewStochRSI(
		cfg.Int("rsi_period", 14),
		cfg.Int("stoch_period", 14),
		cfg.Int("k_smooth", 3),
		cfg.Int("d_smooth", 3),
	)}
}

func (i *stochRSIIndicator) Update(c model.Candle) { i.st.UpdateValue(c.Close) }
func (i *stochRSIIndicator) Stable() bool          { return i.st.Stable() }
func (i *stochRSIIndicator) Snapshot() map[string]*float64 {
	if !i.st.Stable() {
		return map[string]*float64{"stoch_rsi": nil, "stoch_rsi_k": nil, "stoch_rsi_d": nil}
	}
	return map[string]*float64{
		"stoch_rsi":   ptr(i.st.Raw()),
		"stoch_rsi_k": ptr(i.st.K()),
		"stoch_rsi_d": ptr(i.st.D()),
	}
}

// ROC is the rate of change of close over a fixed lookback, in percent.
type ROC struct {
	period int
	window []float64
	count  int
}

// NewROC creates a rate-of-change calculator.
func NewROC(period int) *ROC {
	return &ROC{period: period}
}

func (r *ROC) UpdateValue(price float64) {
	r.count++
	r.window = append(r.window, price)
	if len(r.window) > r.period+1 {
		r.window = r.window[1:]
	}
}

func (r *ROC) Value() float64 {
	if len(r.window) <= r.period || r.window[0] == 0 {
		return 0
	}
	return (r.window[len(r.window)-1] - r.window[0]) / r.window[0] * 100.0
}

func (r *ROC) Stable() bool { return r.count > r.period }

type rocIndicator struct{ roc *ROC }

func newROCIndicator(cfg Config) Indicator {
	return &rocIndicator{roc: NewROC(cfg.Int("period", 10))}
}

func (i *rocIndicator) Update(c model.Candle) { i.roc.UpdateValue(c.Close) }
func (i *rocIndicator) Stable() bool          { return i.roc.Stable() }
func (i *rocIndicator) Snapshot() map[string]*float64 {
	if !i.roc.Stable() {
		return map[string]*float64{"roc": nil}
	}
	return map[string]*float64{"roc": ptr(i.roc.Value())}
}

// Package model defines the shared market-data domain types: candles,
// timeframes and the validation rules both must satisfy.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Candle is one immutable OHLCV bar. Timestamp is the open time in epoch
// milliseconds. Candles are created by the exchange client or read back from
// the segment cache and never mutated afterwards.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Symbol    string  `json:"symbol"`
}

// Validate checks the OHLC invariant: low <= min(open,close) and
// max(open,close) <= high, all prices and volume non-negative.
func (c Candle) Validate() error {
	if c.Timestamp <= 0 {
		return fmt.Errorf("candle %s: non-positive timestamp %d", c.Symbol, c.Timestamp)
	}
	if c.Open < 0 || c.High < 0 || c.Low < 0 || c.Close < 0 {
		return fmt.Errorf("candle %s@%d: negative price", c.Symbol, c.Timestamp)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s@%d: negative volume", c.Symbol, c.Timestamp)
	}
	lo, hi := c.Open, c.Open
	if c.Close < lo {
		lo = c.Close
	}
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo || c.High < hi {
		return fmt.Errorf("candle %s@%d: OHLC bounds violated (o=%g h=%g l=%g c=%g)",
			c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Time returns the open time as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// SortCandles orders bars by timestamp ascending, in place.
func SortCandles(bars []Candle) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
}

// DedupeCandles drops duplicate timestamps keeping the last occurrence, then
// sorts ascending. The input slice is not modified.
func DedupeCandles(bars []Candle) []Candle {
	seen := make(map[int64]Candle, len(bars))
	for _, b := range bars {
		seen[b.Timestamp] = b
	}
	out := make([]Candle, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	SortCandles(out)
	return out
}

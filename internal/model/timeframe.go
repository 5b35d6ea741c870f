package model

import (
	"fmt"
	"time"
)

// Timeframe is one of the exchange's supported candle bucket sizes.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF3d  Timeframe = "3d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

// timeframeMillis maps every supported timeframe to its bucket duration in
// milliseconds. 1M is calendar-aware upstream; the 30-day constant here is
// only used for window arithmetic and gap detection.
var timeframeMillis = map[Timeframe]int64{
	TF1m:  60_000,
	TF3m:  3 * 60_000,
	TF5m:  5 * 60_000,
	TF15m: 15 * 60_000,
	TF30m: 30 * 60_000,
	TF1h:  3_600_000,
	TF2h:  2 * 3_600_000,
	TF4h:  4 * 3_600_000,
	TF6h:  6 * 3_600_000,
	TF8h:  8 * 3_600_000,
	TF12h: 12 * 3_600_000,
	TF1d:  86_400_000,
	TF3d:  3 * 86_400_000,
	TF1w:  7 * 86_400_000,
	TF1M:  30 * 86_400_000,
}

// ParseTimeframe validates s against the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeMillis[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// Valid reports whether the timeframe is in the supported set.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMillis[tf]
	return ok
}

// Millis returns the bucket duration in milliseconds (approximate for 1M).
func (tf Timeframe) Millis() int64 {
	return timeframeMillis[tf]
}

// Duration returns the bucket duration (approximate for 1M).
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMillis[tf]) * time.Millisecond
}

func (tf Timeframe) String() string { return string(tf) }

// Timeframes returns the supported set ordered by ascending duration.
func Timeframes() []Timeframe {
	return []Timeframe{
		TF1m, TF3m, TF5m, TF15m, TF30m,
		TF1h, TF2h, TF4h, TF6h, TF8h, TF12h,
		TF1d, TF3d, TF1w, TF1M,
	}
}

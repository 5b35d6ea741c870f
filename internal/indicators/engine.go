package indicators

import (
	"fmt"
	"math"

	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// warmupBuffer pads the nominal warm-up window so smoothed tails settle.
const warmupBuffer = 1.2

// SeriesRequest maps indicator keys to user config overrides (may be nil).
type SeriesRequest map[string]Config

// SeriesMetadata describes one ComputeSeries run.
type SeriesMetadata struct {
	TotalBars     int      `json:"total_bars"`
	RequestedBars int      `json:"requested_bars"`
	WarmupBars    int      `json:"warmup_bars"`
	Indicators    []string `json:"indicators"`
	Precision     int      `json:"precision"`
}

// SeriesResult is the aligned output of a ComputeSeries run. Every series
// has one entry per returned timestamp; nil marks pre-warm-up bars.
type SeriesResult struct {
	Timestamps []int64               `json:"timestamps"`
	Series     map[string][]*float64 `json:"series"`
	Snapshot   map[string]float64    `json:"snapshot"`
	Metadata   SeriesMetadata        `json:"metadata"`
}

// TimePoint is one entry of a per-indicator time series projection.
type TimePoint struct {
	Timestamp int64              `json:"timestamp"`
	Value     *float64           `json:"value,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
}

// TimeSeries is the thin per-indicator projection returned by
// IndicatorTimeSeries.
type TimeSeries struct {
	Indicator string      `json:"indicator"`
	Data      []TimePoint `json:"data"`
}

// Engine drives stateful calculators over a shared candle stream.
type Engine struct {
	precision int
}

// NewEngine creates an engine emitting values rounded to precision decimals.
func NewEngine(precision int) *Engine {
	return &Engine{precision: precision}
}

// RequiredWarmup returns the padded warm-up bar count for a request set:
// the max nominal warm-up across requested indicators plus a 20% buffer.
func (e *Engine) RequiredWarmup(requests SeriesRequest) (int, error) {
	max := 0
	for key, overrides := range requests {
		spec, err := Lookup(key)
		if err != nil {
			return 0, err
		}
		w := spec.Warmup(spec.DefaultConfig.Merge(overrides))
		if w > max {
			max = w
		}
	}
	return int(math.Ceil(float64(max) * warmupBuffer)), nil
}

// ComputeSeries feeds every candle through every requested indicator in a
// single streaming pass and emits per-output-key series aligned to the
// candle timestamps. When requestedBars is positive and smaller than the
// stream, the leading (total − requested) entries are trimmed so the
// returned series start after warm-up.
func (e *Engine) ComputeSeries(candles []model.Candle, requests SeriesRequest, requestedBars int) (*SeriesResult, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles to compute over", errs.ErrInsufficientData)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: no indicators requested", errs.ErrInvalidInput)
	}

	type instance struct {
		key  string
		spec Spec
		ind  Indicator
	}
	instances := make([]instance, 0, len(requests))
	warmup := 0
	var names []string
	for key, overrides := range requests {
		spec, err := Lookup(key)
		if err != nil {
			return nil, err
		}
		cfg := spec.DefaultConfig.Merge(overrides)
		if w := spec.Warmup(cfg); w > warmup {
			warmup = w
		}
		instances = append(instances, instance{key: key, spec: spec, ind: spec.New(cfg)})
		names = append(names, key)
	}
	warmup = int(math.Ceil(float64(warmup) * warmupBuffer))

	series := make(map[string][]*float64)
	timestamps := make([]int64, 0, len(candles))
	for _, inst := range instances {
		for _, out := range inst.spec.OutputKeys {
			series[out] = make([]*float64, 0, len(candles))
		}
	}

	for _, c := range candles {
		timestamps = append(timestamps, c.Timestamp)
		for _, inst := range instances {
			snap := e.updateSafely(inst.ind, inst.spec, c)
			for _, out := range inst.spec.OutputKeys {
				v := snap[out]
				if v == nil {
					series[out] = append(series[out], nil)
					continue
				}
				series[out] = append(series[out], ptr(Round(*v, e.precision)))
			}
		}
	}

	total := len(candles)
	if requestedBars > 0 && requestedBars < total {
		trim := total - requestedBars
		timestamps = timestamps[trim:]
		for out := range series {
			series[out] = series[out][trim:]
		}
	}

	snapshot := make(map[string]float64, len(series))
	for out, values := range series {
		for i := len(values) - 1; i >= 0; i-- {
			if values[i] != nil {
				snapshot[out] = *values[i]
				break
			}
		}
	}

	return &SeriesResult{
		Timestamps: timestamps,
		Series:     series,
		Snapshot:   snapshot,
		Metadata: SeriesMetadata{
			TotalBars:     total,
			RequestedBars: requestedBars,
			WarmupBars:    warmup,
			Indicators:    names,
			Precision:     e.precision,
		},
	}, nil
}

// updateSafely feeds one candle, converting a panicking calculator into a
// null emission for that bar so one bad update cannot kill the pipeline.
func (e *Engine) updateSafely(ind Indicator, spec Spec, c model.Candle) (snap map[string]*float64) {
	defer func() {
		if r := recover(); r != nil {
			snap = make(map[string]*float64, len(spec.OutputKeys))
			for _, out := range spec.OutputKeys {
				snap[out] = nil
			}
		}
	}()
	ind.Update(c)
	return ind.Snapshot()
}

// IndicatorTimeSeries computes one indicator over candles and projects it
// into (timestamp, value) points: indices where any sub-series is still
// null are dropped, then offset entries are removed from the right and the
// last bars entries kept.
func (e *Engine) IndicatorTimeSeries(candles []model.Candle, key string, overrides Config, bars, offset int) (*TimeSeries, error) {
	spec, err := Lookup(key)
	if err != nil {
		return nil, err
	}
	result, err := e.ComputeSeries(candles, SeriesRequest{key: overrides}, 0)
	if err != nil {
		return nil, err
	}

	var points []TimePoint
	for i, ts := range result.Timestamps {
		valid := true
		for _, out := range spec.OutputKeys {
			if result.Series[out][i] == nil {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		point := TimePoint{Timestamp: ts}
		if len(spec.OutputKeys) == 1 {
			point.Value = result.Series[spec.OutputKeys[0]][i]
		} else {
			point.Values = make(map[string]float64, len(spec.OutputKeys))
			for _, out := range spec.OutputKeys {
				point.Values[out] = *result.Series[out][i]
			}
		}
		points = append(points, point)
	}

	if offset > 0 {
		if offset >= len(points) {
			points = nil
		} else {
			points = points[:len(points)-offset]
		}
	}
	if bars > 0 && bars < len(points) {
		points = points[len(points)-bars:]
	}

	return &TimeSeries{Indicator: key, Data: points}, nil
}

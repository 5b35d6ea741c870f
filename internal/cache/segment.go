package cache

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fredrousseau/midas-sub000/internal/model"
)

// Segment is one continuous time-range cache entry for a (symbol, timeframe)
// pair. Bars is keyed by open-time; Start/End are the inclusive bounds of
// the covered range.
type Segment struct {
	Start     int64
	End       int64
	Bars      map[int64]model.Candle
	CreatedAt int64 // first-write timestamp, diagnostic only
}

// NewSegment builds a segment from sorted bars.
func NewSegment(bars []model.Candle, createdAt int64) *Segment {
	s := &Segment{
		Bars:      make(map[int64]model.Candle, len(bars)),
		CreatedAt: createdAt,
	}
	for _, b := range bars {
		s.Bars[b.Timestamp] = b
	}
	s.recomputeBounds()
	return s
}

// Count returns the number of cached bars.
func (s *Segment) Count() int { return len(s.Bars) }

// Merge inserts every bar not already present, extending the bounds as
// needed. It returns the number of bars added and whether the bounds grew.
func (s *Segment) Merge(bars []model.Candle) (added int, extended bool) {
	for _, b := range bars {
		if _, ok := s.Bars[b.Timestamp]; ok {
			continue
		}
		s.Bars[b.Timestamp] = b
		added++
		if b.Timestamp < s.Start {
			s.Start = b.Timestamp
			extended = true
		}
		if b.Timestamp > s.End {
			s.End = b.Timestamp
			extended = true
		}
	}
	return added, extended
}

// Evict drops the oldest timestamps until at most max bars remain, adjusting
// Start to the new minimum. It returns the number of bars dropped.
func (s *Segment) Evict(max int) int {
	if max <= 0 || len(s.Bars) <= max {
		return 0
	}
	ordered := s.sortedTimestamps()
	drop := len(ordered) - max
	for _, ts := range ordered[:drop] {
		delete(s.Bars, ts)
	}
	s.Start = ordered[drop]
	return drop
}

// Extract returns the bars with timestamps in [start, end], ascending.
func (s *Segment) Extract(start, end int64) []model.Candle {
	var out []model.Candle
	for _, ts := range s.sortedTimestamps() {
		if ts < start {
			continue
		}
		if ts > end {
			break
		}
		out = append(out, s.Bars[ts])
	}
	return out
}

func (s *Segment) sortedTimestamps() []int64 {
	ordered := make([]int64, 0, len(s.Bars))
	for ts := range s.Bars {
		ordered = append(ordered, ts)
	}
	slices.Sort(ordered)
	return ordered
}

func (s *Segment) recomputeBounds() {
	first := true
	for ts := range s.Bars {
		if first {
			s.Start, s.End = ts, ts
			first = false
			continue
		}
		if ts < s.Start {
			s.Start = ts
		}
		if ts > s.End {
			s.End = ts
		}
	}
}

// segmentJSON is the wire form of a Segment: the bars map is flattened into
// an ordered sequence of [timestamp, candle] pairs for portability.
type segmentJSON struct {
	Start     int64             `json:"start"`
	End       int64             `json:"end"`
	Count     int               `json:"count"`
	CreatedAt int64             `json:"created_at"`
	Bars      []json.RawMessage `json:"bars"`
}

// MarshalJSON encodes the segment with bars ordered by timestamp.
func (s *Segment) MarshalJSON() ([]byte, error) {
	out := segmentJSON{
		Start:     s.Start,
		End:       s.End,
		Count:     len(s.Bars),
		CreatedAt: s.CreatedAt,
		Bars:      make([]json.RawMessage, 0, len(s.Bars)),
	}
	for _, ts := range s.sortedTimestamps() {
		pair, err := json.Marshal([]any{ts, s.Bars[ts]})
		if err != nil {
			return nil, err
		}
		out.Bars = append(out.Bars, pair)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form back into the bars map.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var in segmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Start = in.Start
	s.End = in.End
	s.CreatedAt = in.CreatedAt
	s.Bars = make(map[int64]model.Candle, len(in.Bars))
	for _, raw := range in.Bars {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("segment bar pair has %d elements", len(pair))
		}
		var ts int64
		if err := json.Unmarshal(pair[0], &ts); err != nil {
			return err
		}
		var c model.Candle
		if err := json.Unmarshal(pair[1], &c); err != nil {
			return err
		}
		if c.Timestamp != ts {
			return fmt.Errorf("segment bar key %d does not match candle timestamp %d", ts, c.Timestamp)
		}
		s.Bars[ts] = c
	}
	return nil
}

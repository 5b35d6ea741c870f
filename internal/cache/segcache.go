package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/metrics"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// Coverage classifies how well a cache read satisfied the request.
type Coverage string

const (
	CoverageFull    Coverage = "full"
	CoveragePartial Coverage = "partial"
	CoverageNone    Coverage = "none"
)

// Range is an inclusive epoch-ms interval.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// MissingRange describes what a non-full read did not cover. On a miss,
// Count/EndTimestamp echo the request; on a partial hit, Before/After are
// the uncovered gaps adjacent to the segment bounds.
type MissingRange struct {
	Count        int    `json:"count,omitempty"`
	EndTimestamp int64  `json:"end_timestamp,omitempty"`
	Before       *Range `json:"before,omitempty"`
	After        *Range `json:"after,omitempty"`
}

// CoverageResult is the outcome of a segment cache read.
type CoverageResult struct {
	Coverage Coverage       `json:"coverage"`
	Bars     []model.Candle `json:"bars"`
	Missing  *MissingRange  `json:"missing,omitempty"`
}

// Counters are the process-wide cache counters, persisted best-effort.
type Counters struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	PartialHits  int64 `json:"partial_hits"`
	Extensions   int64 `json:"extensions"`
	Merges       int64 `json:"merges"`
	Evictions    int64 `json:"evictions"`
	LastActivity int64 `json:"last_activity"` // epoch ms
}

// SegmentInfo is the per-key diagnostic block returned by Stats.
type SegmentInfo struct {
	Key          string `json:"key"`
	Count        int    `json:"count"`
	Start        int64  `json:"start"`
	End          int64  `json:"end"`
	AgeMs        int64  `json:"age_ms"`
	TTLRemaining int64  `json:"ttl_remaining_seconds"`
}

// Stats is the full diagnostic snapshot.
type Stats struct {
	Counters
	HitRate  float64       `json:"hit_rate"`
	Segments []SegmentInfo `json:"segments"`
}

// SegmentCache stores per-(symbol,timeframe) continuous candle segments in
// a Store, with coverage classification, merge-on-write, oldest-first
// eviction and TTL renewal on every merge.
type SegmentCache struct {
	store      Store
	prefix     string
	ttl        time.Duration
	maxEntries int
	log        zerolog.Logger
	now        func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	statsMu  sync.Mutex
	counters Counters
}

// NewSegmentCache builds the cache over store and reloads persisted
// counters, discarding them when older than the TTL (the segments they
// described have expired with them).
func NewSegmentCache(store Store, cfg config.RedisConfig, log zerolog.Logger) *SegmentCache {
	sc := &SegmentCache{
		store:      store,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL(),
		maxEntries: cfg.MaxBarsPerKey,
		log:        log.With().Str("component", "segment_cache").Logger(),
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	sc.loadCounters()
	return sc
}

func (sc *SegmentCache) segmentKey(symbol string, tf model.Timeframe) string {
	return fmt.Sprintf("%sohlcv:%s:%s", sc.prefix, strings.ToUpper(symbol), tf)
}

func (sc *SegmentCache) statsKey() string { return sc.prefix + "stats" }

func (sc *SegmentCache) keyLock(key string) *sync.Mutex {
	sc.lockMu.Lock()
	defer sc.lockMu.Unlock()
	mu, ok := sc.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		sc.locks[key] = mu
	}
	return mu
}

// Get classifies coverage of a count-bar window ending at end (or the
// segment's newest bar when end is nil) and returns whatever the segment
// covers. Store failures degrade to a miss.
func (sc *SegmentCache) Get(ctx context.Context, symbol string, tf model.Timeframe, count int, end *int64) CoverageResult {
	key := sc.segmentKey(symbol, tf)
	mu := sc.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	seg, err := sc.loadSegment(ctx, key)
	if err != nil {
		sc.log.Warn().Err(err).Str("key", key).Msg("cache read degraded to miss")
	}
	if seg == nil || seg.Count() == 0 {
		return sc.miss(count, end)
	}

	tfMs := tf.Millis()
	requestedEnd := seg.End
	if end != nil {
		requestedEnd = *end
	}
	requestedStart := requestedEnd - int64(count-1)*tfMs

	if requestedEnd < seg.Start || requestedStart > seg.End {
		return sc.miss(count, end)
	}

	inRange := seg.Extract(requestedStart, requestedEnd)
	if requestedStart >= seg.Start && requestedEnd <= seg.End && len(inRange) == count {
		sc.bumpCounter(func(c *Counters) { c.Hits++ })
		metrics.CacheResults.WithLabelValues(string(CoverageFull)).Inc()
		return CoverageResult{Coverage: CoverageFull, Bars: inRange}
	}

	if len(inRange) > count {
		inRange = inRange[len(inRange)-count:]
	}
	missing := &MissingRange{}
	if requestedStart < seg.Start {
		missing.Before = &Range{Start: requestedStart, End: seg.Start - tfMs}
	}
	if requestedEnd > seg.End {
		missing.After = &Range{Start: seg.End + tfMs, End: requestedEnd}
	}
	sc.bumpCounter(func(c *Counters) { c.PartialHits++ })
	metrics.CacheResults.WithLabelValues(string(CoveragePartial)).Inc()
	return CoverageResult{Coverage: CoveragePartial, Bars: inRange, Missing: missing}
}

func (sc *SegmentCache) miss(count int, end *int64) CoverageResult {
	endTS := sc.now().UnixMilli()
	if end != nil {
		endTS = *end
	}
	sc.bumpCounter(func(c *Counters) { c.Misses++ })
	metrics.CacheResults.WithLabelValues(string(CoverageNone)).Inc()
	return CoverageResult{
		Coverage: CoverageNone,
		Missing:  &MissingRange{Count: count, EndTimestamp: endTS},
	}
}

// Set merges bars into the key's segment (creating it if absent), evicts
// oldest bars beyond the per-key cap and writes the segment back with a
// fresh TTL. A merge that adds nothing skips the rewrite so the TTL is not
// renewed by no-op writes.
func (sc *SegmentCache) Set(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Candle) error {
	if len(bars) == 0 {
		return nil
	}
	sorted := make([]model.Candle, len(bars))
	copy(sorted, bars)
	model.SortCandles(sorted)

	key := sc.segmentKey(symbol, tf)
	mu := sc.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	seg, err := sc.loadSegment(ctx, key)
	if err != nil {
		// Unreadable segment: start over rather than lose fresh data.
		sc.log.Warn().Err(err).Str("key", key).Msg("cache segment unreadable, recreating")
		seg = nil
	}

	if seg == nil {
		seg = NewSegment(sorted, sc.now().UnixMilli())
	} else {
		added, extended := seg.Merge(sorted)
		if added == 0 {
			sc.bumpCounter(func(c *Counters) {}) // touch last_activity only
			return nil
		}
		sc.bumpCounter(func(c *Counters) {
			c.Merges++
			if extended {
				c.Extensions++
			}
		})
	}

	if dropped := seg.Evict(sc.maxEntries); dropped > 0 {
		sc.bumpCounter(func(c *Counters) { c.Evictions += int64(dropped) })
		metrics.CacheEvictions.Add(float64(dropped))
	}

	payload, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("%w: marshal segment: %v", errs.ErrInternal, err)
	}
	// This write carries freshly fetched data; its failure must surface.
	if err := sc.store.Set(ctx, key, payload, sc.ttl); err != nil {
		return fmt.Errorf("write segment %s: %w", key, err)
	}
	sc.persistCounters(ctx)
	return nil
}

// Clear deletes one (symbol, timeframe) key, all keys for a symbol, or
// every segment under the prefix.
func (sc *SegmentCache) Clear(ctx context.Context, symbol string, tf model.Timeframe) error {
	if symbol != "" && tf != "" {
		return sc.store.Delete(ctx, sc.segmentKey(symbol, tf))
	}
	pattern := sc.prefix + "ohlcv:*"
	if symbol != "" {
		pattern = fmt.Sprintf("%sohlcv:%s:*", sc.prefix, strings.ToUpper(symbol))
	}
	keys, err := sc.store.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	return sc.store.Delete(ctx, keys...)
}

// Stats walks the segment keys and returns per-key diagnostics plus the
// cumulative counters.
func (sc *SegmentCache) Stats(ctx context.Context) (*Stats, error) {
	keys, err := sc.store.Keys(ctx, sc.prefix+"ohlcv:*")
	if err != nil {
		return nil, err
	}
	now := sc.now().UnixMilli()
	out := &Stats{Counters: sc.snapshotCounters()}
	for _, key := range keys {
		seg, err := sc.loadSegment(ctx, key)
		if err != nil || seg == nil {
			continue
		}
		out.Segments = append(out.Segments, SegmentInfo{
			Key:          key,
			Count:        seg.Count(),
			Start:        seg.Start,
			End:          seg.End,
			AgeMs:        now - seg.CreatedAt,
			TTLRemaining: sc.store.TTL(ctx, key),
		})
	}
	total := out.Hits + out.Misses + out.PartialHits
	if total > 0 {
		out.HitRate = float64(out.Hits) / float64(total)
	}
	return out, nil
}

func (sc *SegmentCache) loadSegment(ctx context.Context, key string) (*Segment, error) {
	raw, ok, err := sc.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var seg Segment
	if err := json.Unmarshal(raw, &seg); err != nil {
		return nil, fmt.Errorf("decode segment %s: %w", key, err)
	}
	return &seg, nil
}

func (sc *SegmentCache) bumpCounter(update func(*Counters)) {
	sc.statsMu.Lock()
	update(&sc.counters)
	sc.counters.LastActivity = sc.now().UnixMilli()
	sc.statsMu.Unlock()
}

func (sc *SegmentCache) snapshotCounters() Counters {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	return sc.counters
}

// persistCounters writes the counters through to the store without expiry.
// Failures are logged, never surfaced.
func (sc *SegmentCache) persistCounters(ctx context.Context) {
	snapshot := sc.snapshotCounters()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := sc.store.Set(ctx, sc.statsKey(), payload, 0); err != nil {
		sc.log.Debug().Err(err).Msg("stats write-through failed")
	}
}

// loadCounters restores persisted counters, discarding them when stale: a
// last_activity older than the TTL means every segment they counted has
// already expired.
func (sc *SegmentCache) loadCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, ok, err := sc.store.Get(ctx, sc.statsKey())
	if err != nil || !ok {
		return
	}
	var loaded Counters
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return
	}
	age := sc.now().UnixMilli() - loaded.LastActivity
	if age > sc.ttl.Milliseconds() {
		sc.log.Debug().Int64("age_ms", age).Msg("discarding stale persisted cache stats")
		return
	}
	sc.statsMu.Lock()
	sc.counters = loaded
	sc.statsMu.Unlock()
}

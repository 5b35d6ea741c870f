// Package marketdata composes the exchange client and segment cache into
// the OHLCV load path: cache-first reads, batched upstream back-fill,
// analysis-date clipping, gap detection and write-through.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/cache"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

// CandleFetcher is the upstream dependency: a bounded-page candle API.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, count int, from, to *int64) ([]model.Candle, error)
	MaxLimit() int
}

// SegmentStore is the cache dependency.
type SegmentStore interface {
	Get(ctx context.Context, symbol string, tf model.Timeframe, count int, end *int64) cache.CoverageResult
	Set(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Candle) error
}

// Gap marks a hole between two consecutive returned bars.
type Gap struct {
	Before       int64 `json:"before"`
	After        int64 `json:"after"`
	ExpectedBars int   `json:"expected_bars"`
}

// LoadRequest describes one OHLCV load.
type LoadRequest struct {
	Symbol     string
	Timeframe  model.Timeframe
	Count      int
	From       *int64
	To         *int64
	AsOf       *int64 // point-in-time ceiling; also clips the result
	UseCache   bool
	DetectGaps bool
}

// OHLCVResult is the load return shape.
type OHLCVResult struct {
	Symbol         string          `json:"symbol"`
	Timeframe      model.Timeframe `json:"timeframe"`
	Count          int             `json:"count"`
	Bars           []model.Candle  `json:"bars"`
	FirstTimestamp int64           `json:"first_timestamp"`
	LastTimestamp  int64           `json:"last_timestamp"`
	AnalysisDate   *int64          `json:"analysis_date,omitempty"`
	Gaps           []Gap           `json:"gaps,omitempty"`
	GapCount       int             `json:"gap_count"`
	FromCache      bool            `json:"from_cache"`
	LoadDurationMs int64           `json:"load_duration_ms"`
	LoadedAt       int64           `json:"loaded_at"`
}

// Provider implements the OHLCV load path.
type Provider struct {
	fetcher       CandleFetcher
	segments      SegmentStore // nil disables caching
	maxDataPoints int
	log           zerolog.Logger
	now           func() time.Time
}

// NewProvider builds a Provider. segments may be nil to disable caching.
func NewProvider(fetcher CandleFetcher, segments SegmentStore, maxDataPoints int, log zerolog.Logger) *Provider {
	return &Provider{
		fetcher:       fetcher,
		segments:      segments,
		maxDataPoints: maxDataPoints,
		log:           log.With().Str("component", "marketdata").Logger(),
		now:           time.Now,
	}
}

// LoadOHLCV loads req.Count bars, serving from cache when it fully covers
// the window and reconstructing long histories by paging backwards through
// the bounded upstream API otherwise.
func (p *Provider) LoadOHLCV(ctx context.Context, req LoadRequest) (*OHLCVResult, error) {
	start := p.now()
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1", errs.ErrInvalidInput)
	}
	if !req.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", errs.ErrInvalidInput, req.Timeframe)
	}
	if req.Count > p.maxDataPoints {
		return nil, fmt.Errorf("%w: count %d exceeds max data points %d",
			errs.ErrInvalidInput, req.Count, p.maxDataPoints)
	}

	// as_of replaces the upstream ceiling and later clips the result.
	fetchTo := req.To
	if req.AsOf != nil {
		fetchTo = req.AsOf
	}

	fromCache := false
	var bars []model.Candle

	if req.UseCache && p.segments != nil {
		cov := p.segments.Get(ctx, symbol, req.Timeframe, req.Count, fetchTo)
		switch cov.Coverage {
		case cache.CoverageFull:
			bars = cov.Bars
			fromCache = true
		case cache.CoveragePartial:
			p.log.Debug().Str("symbol", symbol).Str("tf", string(req.Timeframe)).
				Int("cached", len(cov.Bars)).Msg("partial cache hit, refetching window")
		}
	}

	if !fromCache {
		fetched, err := p.fetchBatched(ctx, symbol, req.Timeframe, req.Count, req.From, fetchTo)
		if err != nil {
			return nil, err
		}
		bars = p.clean(fetched)
	}

	if req.AsOf != nil {
		bars = clipAsOf(bars, *req.AsOf)
		if len(bars) < req.Count {
			return nil, fmt.Errorf("%w: %d bars available at analysis date, need %d",
				errs.ErrInsufficientHistory, len(bars), req.Count)
		}
	}
	if len(bars) > req.Count {
		bars = bars[len(bars)-req.Count:]
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: upstream returned no bars for %s %s",
			errs.ErrInsufficientData, symbol, req.Timeframe)
	}

	var gaps []Gap
	if req.DetectGaps {
		gaps = detectGaps(bars, req.Timeframe)
	}

	if !fromCache && req.UseCache && p.segments != nil {
		if err := p.segments.Set(ctx, symbol, req.Timeframe, bars); err != nil {
			// Losing this write silently would drop freshly fetched data.
			return nil, fmt.Errorf("cache write-through: %w", err)
		}
	}

	return &OHLCVResult{
		Symbol:         symbol,
		Timeframe:      req.Timeframe,
		Count:          len(bars),
		Bars:           bars,
		FirstTimestamp: bars[0].Timestamp,
		LastTimestamp:  bars[len(bars)-1].Timestamp,
		AnalysisDate:   req.AsOf,
		Gaps:           gaps,
		GapCount:       len(gaps),
		FromCache:      fromCache,
		LoadDurationMs: time.Since(start).Milliseconds(),
		LoadedAt:       p.now().UnixMilli(),
	}, nil
}

// fetchBatched pages backwards from the requested ceiling until count bars
// are accumulated or upstream history is exhausted.
func (p *Provider) fetchBatched(ctx context.Context, symbol string, tf model.Timeframe, count int, from, to *int64) ([]model.Candle, error) {
	batchLimit := p.fetcher.MaxLimit()
	if p.maxDataPoints < batchLimit {
		batchLimit = p.maxDataPoints
	}

	if count <= batchLimit {
		return p.fetcher.FetchCandles(ctx, symbol, tf, count, from, to)
	}

	tfMs := tf.Millis()
	var acc []model.Candle
	currentEnd := to
	remaining := count

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTimeout, err)
		}
		batch := remaining
		if batch > batchLimit {
			batch = batchLimit
		}
		fetched, err := p.fetcher.FetchCandles(ctx, symbol, tf, batch, nil, currentEnd)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			break
		}
		acc = append(fetched, acc...)
		remaining -= len(fetched)

		if len(fetched) < batch {
			// Upstream returned a short page: history exhausted.
			break
		}
		next := fetched[0].Timestamp - tfMs
		currentEnd = &next
	}
	if len(acc) == 0 {
		return nil, fmt.Errorf("%w: no history for %s %s", errs.ErrInsufficientData, symbol, tf)
	}
	return acc, nil
}

// clean dedupes by timestamp (last wins) and sorts ascending.
func (p *Provider) clean(bars []model.Candle) []model.Candle {
	return model.DedupeCandles(bars)
}

func clipAsOf(bars []model.Candle, asOf int64) []model.Candle {
	out := bars[:0:0]
	for _, b := range bars {
		if b.Timestamp <= asOf {
			out = append(out, b)
		}
	}
	return out
}

// detectGaps reports every consecutive pair further apart than one bucket.
func detectGaps(bars []model.Candle, tf model.Timeframe) []Gap {
	tfMs := tf.Millis()
	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Timestamp - bars[i-1].Timestamp
		if delta > tfMs {
			gaps = append(gaps, Gap{
				Before:       bars[i-1].Timestamp,
				After:        bars[i].Timestamp,
				ExpectedBars: int(delta/tfMs) - 1,
			})
		}
	}
	return gaps
}

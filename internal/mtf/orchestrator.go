// Package mtf drives regime detection and enrichment across a set of
// timeframes, propagating higher-timeframe indicator state downward and
// scoring cross-timeframe alignment.
package mtf

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/enrich"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Role names a slot in the temporality map.
type Role string

const (
	RoleLong   Role = "long"
	RoleMedium Role = "medium"
	RoleShort  Role = "short"
)

// CandleLoader is the market-data dependency.
type CandleLoader interface {
	LoadOHLCV(ctx context.Context, req marketdata.LoadRequest) (*marketdata.OHLCVResult, error)
}

// Request is a multi-timeframe analysis request: a symbol plus a
// temporality map with at least one slot filled.
type Request struct {
	Symbol     string
	Timeframes map[Role]model.Timeframe
	AsOf       *int64
}

// EnrichedContext is the full multi-timeframe analysis output.
type EnrichedContext struct {
	Symbol       string                     `json:"symbol"`
	AnalysisDate *int64                     `json:"analysis_date,omitempty"`
	Contexts     map[string]*enrich.Context `json:"contexts"`
	Alignment    *Alignment                 `json:"alignment"`
	GeneratedAt  int64                      `json:"generated_at"`
}

// QuickResult is the lightweight fan-out variant: regimes plus alignment,
// no enrichment and no HTF propagation.
type QuickResult struct {
	Symbol    string                            `json:"symbol"`
	Regimes   map[string]*regime.Classification `json:"regimes"`
	Alignment *Alignment                        `json:"alignment"`
}

// barsPerTimeframe covers the deepest warm-up in play (EMA 200) with room
// for the regime detector's minimum window on top.
const barsPerTimeframe = 300

// Orchestrator runs the per-timeframe pipelines.
type Orchestrator struct {
	loader   CandleLoader
	detector *regime.Detector
	enricher *enrich.Enricher
	bars     int
	log      zerolog.Logger
}

// NewOrchestrator wires the pipeline dependencies together.
func NewOrchestrator(loader CandleLoader, detector *regime.Detector, enricher *enrich.Enricher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		loader:   loader,
		detector: detector,
		enricher: enricher,
		bars:     barsPerTimeframe,
		log:      log.With().Str("component", "mtf").Logger(),
	}
}

// Enriched runs the full pipeline: timeframes longest to shortest, each
// one's RSI / MACD histogram / ATR handed to the next smaller one. Any
// single-timeframe failure fails the whole request.
func (o *Orchestrator) Enriched(ctx context.Context, req Request) (*EnrichedContext, error) {
	ordered, err := orderedTimeframes(req, 1)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}

	out := &EnrichedContext{
		Symbol:       symbol,
		AnalysisDate: req.AsOf,
		Contexts:     make(map[string]*enrich.Context, len(ordered)),
	}

	// higher-timeframe state keyed by the tf that produced it, in the same
	// descending order as processing
	states := make([]*enrich.HTFState, 0, len(ordered))
	var signals []Signal

	for _, tf := range ordered {
		result, err := o.loader.LoadOHLCV(ctx, marketdata.LoadRequest{
			Symbol:     symbol,
			Timeframe:  tf,
			Count:      o.bars,
			AsOf:       req.AsOf,
			UseCache:   true,
			DetectGaps: false,
		})
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf, err)
		}

		cls, err := o.detector.Detect(result.Bars, tf)
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf, err)
		}

		htf := nearestHigherState(states, tf)
		enriched, err := o.enricher.Enrich(result.Bars, tf, cls, htf)
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf, err)
		}
		out.Contexts[tf.String()] = enriched

		states = append(states, htfStateFrom(tf, result.Bars))
		signals = append(signals, signalFrom(tf, cls))
	}

	out.Alignment = Align(signals)
	out.GeneratedAt = time.Now().UnixMilli()
	return out, nil
}

// Quick fans regime detection out across timeframes in parallel. It needs
// at least two timeframes and propagates no state between them.
func (o *Orchestrator) Quick(ctx context.Context, req Request) (*QuickResult, error) {
	ordered, err := orderedTimeframes(req, 2)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}

	type outcome struct {
		tf  model.Timeframe
		cls *regime.Classification
		err error
	}
	results := make([]outcome, len(ordered))

	var wg sync.WaitGroup
	for i, tf := range ordered {
		wg.Add(1)
		go func(i int, tf model.Timeframe) {
			defer wg.Done()
			result, err := o.loader.LoadOHLCV(ctx, marketdata.LoadRequest{
				Symbol:    symbol,
				Timeframe: tf,
				Count:     o.bars,
				AsOf:      req.AsOf,
				UseCache:  true,
			})
			if err != nil {
				results[i] = outcome{tf: tf, err: fmt.Errorf("timeframe %s: %w", tf, err)}
				return
			}
			cls, err := o.detector.Detect(result.Bars, tf)
			if err != nil {
				err = fmt.Errorf("timeframe %s: %w", tf, err)
			}
			results[i] = outcome{tf: tf, cls: cls, err: err}
		}(i, tf)
	}
	wg.Wait()

	out := &QuickResult{
		Symbol:  symbol,
		Regimes: make(map[string]*regime.Classification, len(ordered)),
	}
	var signals []Signal
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out.Regimes[r.tf.String()] = r.cls
		signals = append(signals, signalFrom(r.tf, r.cls))
	}
	out.Alignment = Align(signals)
	return out, nil
}

// orderedTimeframes validates the temporality map and returns its distinct
// timeframes sorted longest first.
func orderedTimeframes(req Request, minimum int) ([]model.Timeframe, error) {
	seen := make(map[model.Timeframe]bool)
	var ordered []model.Timeframe
	for _, tf := range req.Timeframes {
		if !tf.Valid() {
			return nil, fmt.Errorf("%w: unsupported timeframe %q", errs.ErrInvalidInput, tf)
		}
		if !seen[tf] {
			seen[tf] = true
			ordered = append(ordered, tf)
		}
	}
	if len(ordered) < minimum {
		return nil, fmt.Errorf("%w: need at least %d timeframe(s), got %d",
			errs.ErrInvalidInput, minimum, len(ordered))
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Duration() > ordered[j].Duration()
	})
	return ordered, nil
}

// nearestHigherState returns the state of the smallest timeframe strictly
// longer than tf among those already processed.
func nearestHigherState(states []*enrich.HTFState, tf model.Timeframe) *enrich.HTFState {
	var best *enrich.HTFState
	for _, s := range states {
		if s.Timeframe.Duration() <= tf.Duration() {
			continue
		}
		if best == nil || s.Timeframe.Duration() < best.Timeframe.Duration() {
			best = s
		}
	}
	return best
}

// htfStateFrom streams the propagated indicators directly over the bars so
// the state exists even when the enrichment depth omitted momentum.
func htfStateFrom(tf model.Timeframe, bars []model.Candle) *enrich.HTFState {
	rsi := indicators.NewRSI(14)
	macd := indicators.NewMACD(12, 26, 9)
	atr := indicators.NewATR(14)
	for _, c := range bars {
		rsi.UpdateValue(c.Close)
		macd.UpdateValue(c.Close)
		atr.Update(c.High, c.Low, c.Close)
	}
	state := &enrich.HTFState{Timeframe: tf}
	if rsi.Stable() {
		v := rsi.Value()
		state.RSI = &v
	}
	if macd.Stable() {
		v := macd.Histogram()
		state.MACDHistogram = &v
	}
	if atr.Stable() {
		v := atr.Value()
		state.ATR = &v
	}
	return state
}

func signalFrom(tf model.Timeframe, cls *regime.Classification) Signal {
	return Signal{
		Timeframe:  tf,
		Regime:     cls.Regime,
		Direction:  cls.Direction,
		Confidence: cls.Confidence,
		Weight:     timeframeWeight(tf),
	}
}

// Package backtest replays historical candles one bar at a time through
// the streaming indicator and regime machinery and reports the trades a
// simple strategy would have taken, plus summary statistics.
package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Strategy names the supported replay strategies.
const (
	StrategyRegimeFollow = "regime_follow"
	StrategyEMACross     = "ema_cross"
)

// Request describes one backtest run.
type Request struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	Start     int64           `json:"start"`
	End       int64           `json:"end"`
	Strategy  string          `json:"strategy"`
}

// Trade is one completed round trip.
type Trade struct {
	Side       string  `json:"side"` // long or short
	EntryTime  int64   `json:"entry_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitTime   int64   `json:"exit_time"`
	ExitPrice  float64 `json:"exit_price"`
	ReturnPct  float64 `json:"return_pct"`
	ExitReason string  `json:"exit_reason"`
}

// Summary aggregates the run outcome.
type Summary struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	BarsReplayed   int     `json:"bars_replayed"`
}

// Result is the full backtest output.
type Result struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Timeframe   model.Timeframe `json:"timeframe"`
	Strategy    string          `json:"strategy"`
	Start       int64           `json:"start"`
	End         int64           `json:"end"`
	Trades      []Trade         `json:"trades"`
	Summary     Summary         `json:"summary"`
	GeneratedAt int64           `json:"generated_at"`
	DurationMs  int64           `json:"duration_ms"`
}

// warmupBars precedes the replay window so indicators are stable at the
// first evaluated bar.
const warmupBars = 100

// regimeWindow is the sliding window fed to the detector at each bar.
const regimeWindow = 120

// Runner drives backtest replays.
type Runner struct {
	loader   mtf.CandleLoader
	detector *regime.Detector
	log      zerolog.Logger
}

// NewRunner builds a Runner.
func NewRunner(loader mtf.CandleLoader, detector *regime.Detector, log zerolog.Logger) *Runner {
	return &Runner{
		loader:   loader,
		detector: detector,
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

// Run replays the requested window bar by bar.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}
	if !req.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", errs.ErrInvalidInput, req.Timeframe)
	}
	if req.End <= req.Start {
		return nil, fmt.Errorf("%w: end must be after start", errs.ErrInvalidInput)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyRegimeFollow
	}
	if strategy != StrategyRegimeFollow && strategy != StrategyEMACross {
		return nil, fmt.Errorf("%w: unknown strategy %q", errs.ErrInvalidInput, strategy)
	}

	tfMs := req.Timeframe.Millis()
	span := int((req.End - req.Start) / tfMs)
	if span < 1 {
		return nil, fmt.Errorf("%w: window shorter than one bar", errs.ErrInvalidInput)
	}
	count := span + warmupBars
	end := req.End

	loaded, err := r.loader.LoadOHLCV(ctx, marketdata.LoadRequest{
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		Count:     count,
		To:        &end,
		UseCache:  true,
	})
	if err != nil {
		return nil, err
	}
	bars := loaded.Bars

	var trades []Trade
	switch strategy {
	case StrategyRegimeFollow:
		trades = r.replayRegimeFollow(ctx, bars, req)
	case StrategyEMACross:
		trades = replayEMACross(bars, req)
	}

	result := &Result{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Timeframe:   req.Timeframe,
		Strategy:    strategy,
		Start:       req.Start,
		End:         req.End,
		Trades:      trades,
		Summary:     summarize(trades, bars, req),
		GeneratedAt: time.Now().UnixMilli(),
		DurationMs:  time.Since(started).Milliseconds(),
	}
	r.log.Info().Str("symbol", symbol).Str("strategy", strategy).
		Int("trades", result.Summary.Trades).
		Float64("return_pct", result.Summary.TotalReturnPct).
		Msg("backtest complete")
	return result, nil
}

type position struct {
	side       string
	entryTime  int64
	entryPrice float64
}

func closeTrade(pos *position, bar model.Candle, reason string) Trade {
	ret := (bar.Close - pos.entryPrice) / pos.entryPrice * 100.0
	if pos.side == "short" {
		ret = -ret
	}
	return Trade{
		Side:       pos.side,
		EntryTime:  pos.entryTime,
		EntryPrice: pos.entryPrice,
		ExitTime:   bar.Timestamp,
		ExitPrice:  bar.Close,
		ReturnPct:  ret,
		ExitReason: reason,
	}
}

// replayRegimeFollow enters in the regime direction when a trending
// classification is confident and exits when the direction flips or
// confidence decays.
func (r *Runner) replayRegimeFollow(ctx context.Context, bars []model.Candle, req Request) []Trade {
	var trades []Trade
	var pos *position

	for i := regimeWindow; i < len(bars); i++ {
		if ctx.Err() != nil {
			break
		}
		bar := bars[i]
		if bar.Timestamp < req.Start || bar.Timestamp > req.End {
			continue
		}
		window := bars[i-regimeWindow : i+1]
		cls, err := r.detector.Detect(window, req.Timeframe)
		if err != nil {
			continue
		}

		if pos != nil {
			flipped := (pos.side == "long" && cls.Direction == regime.Bearish) ||
				(pos.side == "short" && cls.Direction == regime.Bullish)
			if flipped {
				trades = append(trades, closeTrade(pos, bar, "direction_flip"))
				pos = nil
			} else if cls.Confidence < 0.4 {
				trades = append(trades, closeTrade(pos, bar, "confidence_decay"))
				pos = nil
			}
		}
		if pos == nil && cls.Confidence >= 0.6 {
			switch {
			case strings.HasPrefix(cls.Regime, "trending_bullish"):
				pos = &position{side: "long", entryTime: bar.Timestamp, entryPrice: bar.Close}
			case strings.HasPrefix(cls.Regime, "trending_bearish"):
				pos = &position{side: "short", entryTime: bar.Timestamp, entryPrice: bar.Close}
			}
		}
	}
	if pos != nil && len(bars) > 0 {
		trades = append(trades, closeTrade(pos, bars[len(bars)-1], "end_of_window"))
	}
	return trades
}

// replayEMACross trades EMA(12)/EMA(26) crosses long-only.
func replayEMACross(bars []model.Candle, req Request) []Trade {
	fast := indicators.NewEMA(12)
	slow := indicators.NewEMA(26)
	var trades []Trade
	var pos *position
	prevDiff := 0.0

	for _, bar := range bars {
		fast.UpdateValue(bar.Close)
		slow.UpdateValue(bar.Close)
		if !slow.Stable() {
			continue
		}
		diff := fast.Value() - slow.Value()
		inWindow := bar.Timestamp >= req.Start && bar.Timestamp <= req.End
		if inWindow {
			if pos == nil && prevDiff <= 0 && diff > 0 {
				pos = &position{side: "long", entryTime: bar.Timestamp, entryPrice: bar.Close}
			} else if pos != nil && prevDiff >= 0 && diff < 0 {
				trades = append(trades, closeTrade(pos, bar, "ema_cross_down"))
				pos = nil
			}
		}
		prevDiff = diff
	}
	if pos != nil && len(bars) > 0 {
		trades = append(trades, closeTrade(pos, bars[len(bars)-1], "end_of_window"))
	}
	return trades
}

func summarize(trades []Trade, bars []model.Candle, req Request) Summary {
	s := Summary{Trades: len(trades)}
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, t := range trades {
		if t.ReturnPct > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		equity *= 1 + t.ReturnPct/100.0
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	s.TotalReturnPct = (equity - 1) * 100.0
	s.MaxDrawdownPct = maxDD * 100.0
	for _, b := range bars {
		if b.Timestamp >= req.Start && b.Timestamp <= req.End {
			s.BarsReplayed++
		}
	}
	return s
}

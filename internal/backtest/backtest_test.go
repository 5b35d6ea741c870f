package backtest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// trendLoader serves a steady multiplicative drift ending exactly at the
// requested ceiling, grid-aligned.
type trendLoader struct {
	driftPerBar float64
}

func (l *trendLoader) LoadOHLCV(_ context.Context, req marketdata.LoadRequest) (*marketdata.OHLCVResult, error) {
	tfMs := req.Timeframe.Millis()
	end := (*req.To / tfMs) * tfMs
	bars := make([]model.Candle, req.Count)
	price := 100.0
	for i := 0; i < req.Count; i++ {
		next := price * (1 + l.driftPerBar)
		hi, lo := price, next
		if next > hi {
			hi = next
		}
		if price < lo {
			lo = price
		}
		bars[i] = model.Candle{
			Timestamp: end - int64(req.Count-1-i)*tfMs,
			Open:      price, High: hi * 1.001, Low: lo * 0.999, Close: next,
			Volume: 100,
		}
		price = next
	}
	return &marketdata.OHLCVResult{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Count:     len(bars),
		Bars:      bars,
	}, nil
}

func testRunner(loader *trendLoader) *Runner {
	detector := regime.NewDetector(regime.DefaultConfig(), zerolog.Nop())
	return NewRunner(loader, detector, zerolog.Nop())
}

const hourMs = 3_600_000

func TestRunValidation(t *testing.T) {
	r := testRunner(&trendLoader{driftPerBar: 0.001})
	ctx := context.Background()

	_, err := r.Run(ctx, Request{Symbol: "", Timeframe: model.TF1h, Start: 0, End: hourMs})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = r.Run(ctx, Request{Symbol: "BTCUSDT", Timeframe: "7m", Start: 0, End: hourMs})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = r.Run(ctx, Request{Symbol: "BTCUSDT", Timeframe: model.TF1h, Start: hourMs, End: hourMs})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = r.Run(ctx, Request{
		Symbol: "BTCUSDT", Timeframe: model.TF1h,
		Start: 0, End: 200 * hourMs, Strategy: "martingale",
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestRunRegimeFollowUptrend(t *testing.T) {
	r := testRunner(&trendLoader{driftPerBar: 0.001})

	start := int64(1000 * hourMs)
	end := start + 200*hourMs
	res, err := r.Run(context.Background(), Request{
		Symbol:    "btcusdt",
		Timeframe: model.TF1h,
		Start:     start,
		End:       end,
	})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, StrategyRegimeFollow, res.Strategy)
	assert.NotEmpty(t, res.ID)

	// one long entered early in the window, held to the end
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "long", tr.Side)
	assert.Equal(t, "end_of_window", tr.ExitReason)
	assert.Greater(t, tr.ReturnPct, 0.0)
	assert.Greater(t, tr.ExitTime, tr.EntryTime)
	assert.GreaterOrEqual(t, tr.EntryTime, start)

	assert.Equal(t, 1, res.Summary.Trades)
	assert.Equal(t, 1, res.Summary.Wins)
	assert.InDelta(t, 1.0, res.Summary.WinRate, 1e-9)
	assert.Greater(t, res.Summary.TotalReturnPct, 0.0)
	assert.Zero(t, res.Summary.MaxDrawdownPct)
	assert.Equal(t, 201, res.Summary.BarsReplayed)
}

func TestRunRegimeFollowDowntrendGoesShort(t *testing.T) {
	r := testRunner(&trendLoader{driftPerBar: -0.001})

	res, err := r.Run(context.Background(), Request{
		Symbol:    "BTCUSDT",
		Timeframe: model.TF1h,
		Start:     1000 * hourMs,
		End:       1200 * hourMs,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, "short", res.Trades[0].Side)
	assert.Greater(t, res.Trades[0].ReturnPct, 0.0)
}

func vShapeBars(down, up int) []model.Candle {
	bars := make([]model.Candle, 0, down+up)
	price := 100.0
	push := func(next float64) {
		hi, lo := price, next
		if next > hi {
			hi = next
		}
		if price < lo {
			lo = price
		}
		bars = append(bars, model.Candle{
			Timestamp: int64(len(bars)+1) * hourMs,
			Open:      price, High: hi, Low: lo, Close: next,
			Volume: 10,
		})
		price = next
	}
	for i := 0; i < down; i++ {
		push(price - 0.5)
	}
	for i := 0; i < up; i++ {
		push(price + 1.0)
	}
	return bars
}

func TestReplayEMACrossEntersOnCrossUp(t *testing.T) {
	bars := vShapeBars(40, 60)
	req := Request{Start: bars[0].Timestamp, End: bars[len(bars)-1].Timestamp}

	trades := replayEMACross(bars, req)
	require.Len(t, trades, 1)
	assert.Equal(t, "long", trades[0].Side)
	assert.Equal(t, "end_of_window", trades[0].ExitReason)
	assert.Greater(t, trades[0].ReturnPct, 0.0)
	// entry happens after the turn, never during the decline
	assert.Greater(t, trades[0].EntryTime, bars[40].Timestamp)
}

func TestReplayEMACrossExitsOnCrossDown(t *testing.T) {
	bars := vShapeBars(40, 60)
	// extend with a decline steep enough to flip the cross back
	price := bars[len(bars)-1].Close
	for i := 0; i < 40; i++ {
		next := price - 1.5
		bars = append(bars, model.Candle{
			Timestamp: int64(len(bars)+1) * hourMs,
			Open:      price, High: price, Low: next, Close: next,
			Volume: 10,
		})
		price = next
	}
	req := Request{Start: bars[0].Timestamp, End: bars[len(bars)-1].Timestamp}

	trades := replayEMACross(bars, req)
	require.NotEmpty(t, trades)
	assert.Equal(t, "ema_cross_down", trades[0].ExitReason)
}

func TestSummarize(t *testing.T) {
	trades := []Trade{
		{ReturnPct: 10},
		{ReturnPct: -5},
	}
	bars := []model.Candle{
		{Timestamp: 1 * hourMs},
		{Timestamp: 2 * hourMs},
		{Timestamp: 3 * hourMs},
	}
	s := summarize(trades, bars, Request{Start: 1 * hourMs, End: 2 * hourMs})

	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	// 1.10 * 0.95 = 1.045
	assert.InDelta(t, 4.5, s.TotalReturnPct, 1e-9)
	// peak 1.10, trough 1.045
	assert.InDelta(t, 5.0, s.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 2, s.BarsReplayed)
}

func TestSummarizeEmpty(t *testing.T) {
	s := summarize(nil, nil, Request{})
	assert.Zero(t, s.Trades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.TotalReturnPct)
	assert.Zero(t, s.MaxDrawdownPct)
}

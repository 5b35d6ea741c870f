package mtf

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/enrich"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// uptrendLoader synthesizes a steady uptrend for any requested timeframe.
type uptrendLoader struct {
	mu    sync.Mutex
	calls []model.Timeframe
	fail  map[model.Timeframe]error
}

func (l *uptrendLoader) LoadOHLCV(_ context.Context, req marketdata.LoadRequest) (*marketdata.OHLCVResult, error) {
	l.mu.Lock()
	l.calls = append(l.calls, req.Timeframe)
	l.mu.Unlock()
	if err := l.fail[req.Timeframe]; err != nil {
		return nil, err
	}

	tfMs := req.Timeframe.Millis()
	bars := make([]model.Candle, req.Count)
	price := 100.0
	for i := range bars {
		next := price * 1.001
		bars[i] = model.Candle{
			Timestamp: int64(i+1) * tfMs,
			Open:      price, High: next * 1.001, Low: price * 0.999, Close: next,
			Volume: 100 + float64(i%10),
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

func testOrchestrator(loader CandleLoader) *Orchestrator {
	detector := regime.NewDetector(regime.DefaultConfig(), zerolog.Nop())
	enricher := enrich.NewEnricher(indicators.NewEngine(4), zerolog.Nop())
	return NewOrchestrator(loader, detector, enricher, zerolog.Nop())
}

func TestEnrichedFullPipeline(t *testing.T) {
	loader := &uptrendLoader{}
	o := testOrchestrator(loader)

	out, err := o.Enriched(context.Background(), Request{
		Symbol: "btcusdt",
		Timeframes: map[Role]model.Timeframe{
			RoleLong:   model.TF1d,
			RoleMedium: model.TF4h,
			RoleShort:  model.TF1h,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", out.Symbol)
	require.Len(t, out.Contexts, 3)
	require.NotNil(t, out.Alignment)
	assert.Positive(t, out.GeneratedAt)

	// depth follows timeframe duration
	assert.Equal(t, enrich.DepthLight, out.Contexts["1d"].ContextDepth)
	assert.Equal(t, enrich.DepthMedium, out.Contexts["4h"].ContextDepth)
	assert.Equal(t, enrich.DepthFull, out.Contexts["1h"].ContextDepth)

	// light view omits momentum/volatility/volume
	assert.Nil(t, out.Contexts["1d"].Momentum)
	assert.Nil(t, out.Contexts["1d"].Volatility)
	assert.NotNil(t, out.Contexts["4h"].Momentum)
	assert.NotNil(t, out.Contexts["1h"].MicroPatterns)

	// HTF state flows downward: the daily has none, the others do
	assert.Nil(t, out.Contexts["1d"].Trend.HigherTimeframe)
	require.NotNil(t, out.Contexts["4h"].Trend.HigherTimeframe)
	assert.Equal(t, model.TF1d, out.Contexts["4h"].Trend.HigherTimeframe.Timeframe)
	require.NotNil(t, out.Contexts["1h"].Trend.HigherTimeframe)
	assert.Equal(t, model.TF4h, out.Contexts["1h"].Trend.HigherTimeframe.Timeframe)

	// longest timeframe loads first
	assert.Equal(t, []model.Timeframe{model.TF1d, model.TF4h, model.TF1h}, loader.calls)
}

func TestEnrichedSingleTimeframe(t *testing.T) {
	o := testOrchestrator(&uptrendLoader{})
	out, err := o.Enriched(context.Background(), Request{
		Symbol:     "ETHUSDT",
		Timeframes: map[Role]model.Timeframe{RoleLong: model.TF1d},
	})
	require.NoError(t, err)
	require.Len(t, out.Contexts, 1)
	assert.Nil(t, out.Contexts["1d"].Trend.HigherTimeframe)
}

func TestEnrichedValidation(t *testing.T) {
	o := testOrchestrator(&uptrendLoader{})
	ctx := context.Background()

	_, err := o.Enriched(ctx, Request{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = o.Enriched(ctx, Request{
		Symbol:     "BTCUSDT",
		Timeframes: map[Role]model.Timeframe{RoleLong: "7m"},
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = o.Enriched(ctx, Request{
		Symbol:     "",
		Timeframes: map[Role]model.Timeframe{RoleLong: model.TF1d},
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEnrichedStrictMode(t *testing.T) {
	boom := errors.New("upstream down")
	loader := &uptrendLoader{fail: map[model.Timeframe]error{model.TF4h: boom}}
	o := testOrchestrator(loader)

	_, err := o.Enriched(context.Background(), Request{
		Symbol: "BTCUSDT",
		Timeframes: map[Role]model.Timeframe{
			RoleLong:  model.TF1d,
			RoleShort: model.TF4h,
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "timeframe 4h")
}

func TestQuickNeedsTwoTimeframes(t *testing.T) {
	o := testOrchestrator(&uptrendLoader{})
	_, err := o.Quick(context.Background(), Request{
		Symbol:     "BTCUSDT",
		Timeframes: map[Role]model.Timeframe{RoleLong: model.TF1d},
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestQuickFanOut(t *testing.T) {
	o := testOrchestrator(&uptrendLoader{})
	out, err := o.Quick(context.Background(), Request{
		Symbol: "BTCUSDT",
		Timeframes: map[Role]model.Timeframe{
			RoleLong:  model.TF1d,
			RoleShort: model.TF1h,
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Regimes, 2)
	require.NotNil(t, out.Regimes["1d"])
	require.NotNil(t, out.Regimes["1h"])
	require.NotNil(t, out.Alignment)
	assert.Equal(t, regime.Bullish, out.Alignment.DominantDirection)
}

func TestQuickAnyFailureFailsAll(t *testing.T) {
	boom := errors.New("rate limited")
	loader := &uptrendLoader{fail: map[model.Timeframe]error{model.TF1h: boom}}
	o := testOrchestrator(loader)

	_, err := o.Quick(context.Background(), Request{
		Symbol: "BTCUSDT",
		Timeframes: map[Role]model.Timeframe{
			RoleLong:  model.TF1d,
			RoleShort: model.TF1h,
		},
	})
	assert.ErrorIs(t, err, boom)
}

func TestOrderedTimeframesDedupe(t *testing.T) {
	ordered, err := orderedTimeframes(Request{
		Timeframes: map[Role]model.Timeframe{
			RoleLong:   model.TF4h,
			RoleMedium: model.TF4h,
			RoleShort:  model.TF1h,
		},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Timeframe{model.TF4h, model.TF1h}, ordered)
}

func TestNearestHigherState(t *testing.T) {
	states := []*enrich.HTFState{
		{Timeframe: model.TF1d},
		{Timeframe: model.TF4h},
	}
	got := nearestHigherState(states, model.TF1h)
	require.NotNil(t, got)
	assert.Equal(t, model.TF4h, got.Timeframe)

	assert.Nil(t, nearestHigherState(states, model.TF1d))
	assert.Nil(t, nearestHigherState(nil, model.TF1h))
}

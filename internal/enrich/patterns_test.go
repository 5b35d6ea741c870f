package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const barMs = int64(3_600_000)

func sw(bar int64, price float64, kind string) SwingPoint {
	return SwingPoint{Timestamp: bar * barMs, Price: price, Kind: kind}
}

func TestDetectDoubleTopBottomTolerance(t *testing.T) {
	price, atr := 100.0, 1.0

	tests := []struct {
		name   string
		swings []SwingPoint
		want   string
	}{
		{
			// extremes 2.0 apart = exactly 2% of price
			name:   "double top at tolerance boundary",
			swings: []SwingPoint{sw(1, 102.0, "high"), sw(5, 95, "low"), sw(9, 100.0, "high")},
			want:   "double_top",
		},
		{
			name:   "peaks just past tolerance",
			swings: []SwingPoint{sw(1, 102.1, "high"), sw(5, 95, "low"), sw(9, 100.0, "high")},
			want:   "",
		},
		{
			name:   "double bottom within tolerance",
			swings: []SwingPoint{sw(1, 98.0, "low"), sw(5, 105, "high"), sw(9, 99.9, "low")},
			want:   "double_bottom",
		},
		{
			name:   "wrong swing sequence",
			swings: []SwingPoint{sw(1, 102.0, "high"), sw(5, 101, "high"), sw(9, 95, "low")},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := detectDoubleTopBottom(tt.swings, price, atr)
			if tt.want == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Name)
		})
	}

	// sanity on one full shape: invalidation sits an ATR buffer above the
	// higher peak, target projects the trough depth downward
	p := detectDoubleTopBottom(
		[]SwingPoint{sw(1, 102.0, "high"), sw(5, 95, "low"), sw(9, 100.0, "high")}, price, atr)
	require.NotNil(t, p)
	assert.Equal(t, "bearish", p.Bias)
	assert.InDelta(t, 102.5, p.InvalidationPrice, 1e-9)
	require.NotNil(t, p.TargetIfBreaks)
	assert.InDelta(t, 88.0, *p.TargetIfBreaks, 1e-9)
}

func TestDetectHeadAndShouldersTolerance(t *testing.T) {
	price, atr := 100.0, 1.0

	tests := []struct {
		name   string
		swings []SwingPoint
		want   string
	}{
		{
			// shoulders 5.0 apart = exactly 5% of price
			name: "shoulders at tolerance boundary",
			swings: []SwingPoint{
				sw(1, 105, "high"), sw(3, 98, "low"), sw(5, 110, "high"),
				sw(7, 99, "low"), sw(9, 100.0, "high"),
			},
			want: "head_and_shoulders",
		},
		{
			name: "shoulders past tolerance",
			swings: []SwingPoint{
				sw(1, 105, "high"), sw(3, 98, "low"), sw(5, 110, "high"),
				sw(7, 99, "low"), sw(9, 99.8, "high"),
			},
			want: "",
		},
		{
			name: "inverse with near shoulders",
			swings: []SwingPoint{
				sw(1, 95, "low"), sw(3, 102, "high"), sw(5, 90, "low"),
				sw(7, 101, "high"), sw(9, 96, "low"),
			},
			want: "inverse_head_and_shoulders",
		},
		{
			name: "head not the extreme",
			swings: []SwingPoint{
				sw(1, 111, "high"), sw(3, 98, "low"), sw(5, 110, "high"),
				sw(7, 99, "low"), sw(9, 109, "high"),
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := detectHeadAndShoulders(tt.swings, price, atr)
			if tt.want == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Name)
		})
	}

	// neckline midpoint projects the head height downward
	p := detectHeadAndShoulders(
		[]SwingPoint{
			sw(1, 105, "high"), sw(3, 98, "low"), sw(5, 110, "high"),
			sw(7, 99, "low"), sw(9, 100.0, "high"),
		}, price, atr)
	require.NotNil(t, p)
	require.NotNil(t, p.TargetIfBreaks)
	assert.InDelta(t, 87.0, *p.TargetIfBreaks, 1e-9) // 98.5 - (110 - 98.5)
}

func TestDetectFlagLengthBounds(t *testing.T) {
	price, atr := 106.0, 1.0
	bull := func(flagBars int64) []SwingPoint {
		return []SwingPoint{sw(0, 100, "low"), sw(20, 110, "high"), sw(20+flagBars, 106, "low")}
	}

	tests := []struct {
		name   string
		swings []SwingPoint
		want   string
	}{
		{name: "flag at lower bound", swings: bull(5), want: "bull_flag"},
		{name: "flag at upper bound", swings: bull(15), want: "bull_flag"},
		{name: "flag too short", swings: bull(4), want: ""},
		{name: "flag too long", swings: bull(16), want: ""},
		{
			name:   "bear flag in range",
			swings: []SwingPoint{sw(0, 110, "high"), sw(20, 100, "low"), sw(28, 104, "high")},
			want:   "bear_flag",
		},
		{
			// pole of 2 ATRs never qualifies regardless of span
			name:   "pole too small",
			swings: []SwingPoint{sw(0, 100, "low"), sw(20, 102, "high"), sw(28, 101, "low")},
			want:   "",
		},
		{
			// flag retracing more than half the pole is a reversal, not a flag
			name:   "flag retraces too deep",
			swings: []SwingPoint{sw(0, 100, "low"), sw(20, 110, "high"), sw(28, 104, "low")},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := detectFlag(tt.swings, price, atr, barMs)
			if tt.want == "" {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Name)
		})
	}

	p := detectFlag(bull(8), price, atr, barMs)
	require.NotNil(t, p)
	assert.Equal(t, "bullish", p.Bias)
	assert.InDelta(t, 110.0, p.InvalidationPrice, 1e-9)
	require.NotNil(t, p.TargetIfBreaks)
	assert.InDelta(t, 120.0, *p.TargetIfBreaks, 1e-9) // pole re-projected from the pole end
}

package indicators

import (
	"fmt"
	"sort"

	"github.com/fredrousseau/midas-sub000/internal/errs"
)

// Spec is one catalog entry: the static description of an indicator plus
// its constructor. The catalog is read-only after package init.
type Spec struct {
	Key           string
	Category      Category
	InputKind     InputKind
	OutputKeys    []string
	DefaultConfig Config
	// Warmup returns the number of bars required before output stabilizes
	// for the given (already merged) config.
	Warmup func(cfg Config) int
	New    func(cfg Config) Indicator
}

var catalog = map[string]Spec{
	"ema": {
		Key: "ema", Category: CategoryMovingAverage, InputKind: InputClose,
		OutputKeys:    []string{"ema"},
		DefaultConfig: Config{"period": 20},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 20) },
		New:           newEMAIndicator,
	},
	"sma": {
		Key: "sma", Category: CategoryMovingAverage, InputKind: InputClose,
		OutputKeys:    []string{"sma"},
		DefaultConfig: Config{"period": 20},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 20) },
		New:           newSMAIndicator,
	},
	"rsi": {
		Key: "rsi", Category: CategoryMomentum, InputKind: InputClose,
		OutputKeys:    []string{"rsi"},
		DefaultConfig: Config{"period": 14},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 14) + 1 },
		New:           newRSIIndicator,
	},
	"macd": {
		Key: "macd", Category: CategoryMomentum, InputKind: InputClose,
		OutputKeys:    []string{"macd", "macd_signal", "macd_histogram"},
		DefaultConfig: Config{"fast_period": 12, "slow_period": 26, "signal_period": 9},
		Warmup: func(cfg Config) int {
			return cfg.Int("slow_period", 26) + cfg.Int("signal_period", 9)
		},
		New: newMACDIndicator,
	},
	"stochastic": {
		Key: "stochastic", Category: CategoryMomentum, InputKind: InputHLC,
		OutputKeys:    []string{"stoch_k", "stoch_d"},
		DefaultConfig: Config{"k_period": 14, "smooth": 3, "d_period": 3},
		Warmup: func(cfg Config) int {
			return cfg.Int("k_period", 14) + cfg.Int("smooth", 3) + cfg.Int("d_period", 3)
		},
		New: newStochasticIndicator,
	},
	"stoch_rsi": {
		Key: "stoch_rsi", Category: CategoryMomentum, InputKind: InputClose,
		OutputKeys:    []string{"stoch_rsi", "stoch_rsi_k", "stoch_rsi_d"},
		DefaultConfig: Config{"rsi_period": 14, "stoch_period": 14, "k_smooth": 3, "d_smooth": 3},
		Warmup: func(cfg Config) int {
			return cfg.Int("rsi_period", 14) + cfg.Int("stoch_period", 14) +
				cfg.Int("k_smooth", 3) + cfg.Int("d_smooth", 3)
		},
		New: newStochRSIIndicator,
	},
	"roc": {
		Key: "roc", Category: CategoryMomentum, InputKind: InputClose,
		OutputKeys:    []string{"roc"},
		DefaultConfig: Config{"period": 10},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 10) + 1 },
		New:           newROCIndicator,
	},
	"atr": {
		Key: "atr", Category: CategoryVolatility, InputKind: InputHLC,
		OutputKeys:    []string{"atr"},
		DefaultConfig: Config{"period": 14},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 14) + 1 },
		New:           newATRIndicator,
	},
	"bollinger": {
		Key: "bollinger", Category: CategoryVolatility, InputKind: InputClose,
		OutputKeys:    []string{"bb_upper", "bb_middle", "bb_lower", "bb_width"},
		DefaultConfig: Config{"period": 20, "std_dev": 2},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 20) },
		New:           newBollingerIndicator,
	},
	"adx": {
		Key: "adx", Category: CategoryTrend, InputKind: InputHLC,
		OutputKeys:    []string{"adx", "plus_di", "minus_di"},
		DefaultConfig: Config{"period": 14},
		Warmup:        func(cfg Config) int { return 2*cfg.Int("period", 14) + 1 },
		New:           newADXIndicator,
	},
	"efficiency_ratio": {
		Key: "efficiency_ratio", Category: CategoryTrend, InputKind: InputClose,
		OutputKeys:    []string{"efficiency_ratio"},
		DefaultConfig: Config{"period": 10},
		Warmup:        func(cfg Config) int { return cfg.Int("period", 10) + 1 },
		New:           newERIndicator,
	},
	"obv": {
		Key: "obv", Category: CategoryVolume, InputKind: InputCloseVolume,
		OutputKeys:    []string{"obv"},
		DefaultConfig: Config{},
		Warmup:        func(Config) int { return 2 },
		New:           newOBVIndicator,
	},
	"vwap": {
		Key: "vwap", Category: CategoryVolume, InputKind: InputOHLC,
		OutputKeys:    []string{"vwap"},
		DefaultConfig: Config{},
		Warmup:        func(Config) int { return 1 },
		New:           newVWAPIndicator,
	},
}

// Lookup returns the catalog entry for key.
func Lookup(key string) (Spec, error) {
	spec, ok := catalog[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown indicator %q", errs.ErrInvalidInput, key)
	}
	return spec, nil
}

// CatalogKeys returns every registered indicator key, sorted.
func CatalogKeys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

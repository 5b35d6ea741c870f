package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fredrousseau/midas-sub000/internal/backtest"
	"github.com/fredrousseau/midas-sub000/internal/cache"
	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/enrich"
	"github.com/fredrousseau/midas-sub000/internal/exchange"
	"github.com/fredrousseau/midas-sub000/internal/httpapi"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
	"github.com/fredrousseau/midas-sub000/internal/persistence"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

const (
	appName = "midas"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market-data and technical-analysis gateway",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(backtestCmd(&configPath))
	rootCmd.AddCommand(cacheCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

// stack is the wired component graph shared by the commands.
type stack struct {
	cfg      *config.Config
	segments *cache.SegmentCache
	provider *marketdata.Provider
	engine   *indicators.Engine
	detector *regime.Detector
	enricher *enrich.Enricher
	orch     *mtf.Orchestrator
	runner   *backtest.Runner
	runs     *persistence.BacktestRepo
}

func buildStack(cfg *config.Config) (*stack, error) {
	logger := log.Logger

	client := exchange.NewClient(cfg.Exchange, logger)

	var segments *cache.SegmentCache
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisStore(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		segments = cache.NewSegmentCache(store, cfg.Redis, logger)
	}

	var segStore marketdata.SegmentStore
	if segments != nil {
		segStore = segments
	}
	provider := marketdata.NewProvider(client, segStore, cfg.Exchange.MaxDataPoints, logger)

	engine := indicators.NewEngine(cfg.Indicator.Precision)
	detector := regime.NewDetector(regime.DefaultConfig(), logger)
	enricher := enrich.NewEnricher(engine, logger)
	orch := mtf.NewOrchestrator(provider, detector, enricher, logger)
	runner := backtest.NewRunner(provider, detector, logger)

	var runs *persistence.BacktestRepo
	if cfg.DatabaseURL != "" {
		repo, err := persistence.Open(context.Background(), cfg.DatabaseURL, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("backtest repository: %w", err)
		}
		runs = repo
	}

	return &stack{
		cfg:      cfg,
		segments: segments,
		provider: provider,
		engine:   engine,
		detector: detector,
		enricher: enricher,
		orch:     orch,
		runner:   runner,
		runs:     runs,
	}, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			if st.runs != nil {
				defer st.runs.Close()
			}

			server := httpapi.NewServer(cfg.HTTP.Addr, httpapi.Deps{
				Provider:     st.provider,
				Engine:       st.engine,
				Detector:     st.detector,
				Orchestrator: st.orch,
				Cache:        st.segments,
				Backtester:   st.runner,
				Runs:         st.runs,
			}, log.Logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}
}

func backtestCmd(configPath *string) *cobra.Command {
	var (
		symbol    string
		timeframe string
		startDate string
		endDate   string
		strategy  string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a strategy over historical candles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			if st.runs != nil {
				defer st.runs.Close()
			}

			tf, err := model.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			start, err := parseDate(startDate)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			end, err := parseDate(endDate)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}

			result, err := st.runner.Run(cmd.Context(), backtest.Request{
				Symbol:    symbol,
				Timeframe: tf,
				Start:     start,
				End:       end,
				Strategy:  strategy,
			})
			if err != nil {
				return err
			}
			if st.runs != nil {
				if err := st.runs.Save(cmd.Context(), result); err != nil {
					log.Warn().Err(err).Msg("persist backtest run")
				}
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1h", "candle timeframe")
	cmd.Flags().StringVar(&startDate, "start", "", "window start (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "window end (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&strategy, "strategy", backtest.StrategyRegimeFollow, "strategy name")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func cacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache administration",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cacheOnlyStack(*configPath)
			if err != nil {
				return err
			}
			stats, err := st.segments.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	var symbol, timeframe string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cacheOnlyStack(*configPath)
			if err != nil {
				return err
			}
			var tf model.Timeframe
			if timeframe != "" {
				parsed, err := model.ParseTimeframe(timeframe)
				if err != nil {
					return err
				}
				tf = parsed
			}
			return st.segments.Clear(cmd.Context(), symbol, tf)
		},
	}
	clearCmd.Flags().StringVar(&symbol, "symbol", "", "restrict to one symbol")
	clearCmd.Flags().StringVar(&timeframe, "timeframe", "", "restrict to one timeframe")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func cacheOnlyStack(configPath string) (*stack, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis cache is disabled (set REDIS_ENABLED=true)")
	}
	return buildStack(cfg)
}

func parseDate(raw string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("bad date %q, want RFC 3339 or YYYY-MM-DD", raw)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

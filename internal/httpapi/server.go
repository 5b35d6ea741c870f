// Package httpapi exposes the gateway over HTTP: OHLCV loads, indicator
// series, regime classification, multi-timeframe contexts, cache admin and
// backtests, all wrapped in a uniform JSON envelope.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/backtest"
	"github.com/fredrousseau/midas-sub000/internal/cache"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/metrics"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
	"github.com/fredrousseau/midas-sub000/internal/persistence"
	"github.com/fredrousseau/midas-sub000/internal/regime"
)

// Deps are the wired components the handlers call into. Cache and Runs may
// be nil when the corresponding backing service is not configured.
type Deps struct {
	Provider     *marketdata.Provider
	Engine       *indicators.Engine
	Detector     *regime.Detector
	Orchestrator *mtf.Orchestrator
	Cache        *cache.SegmentCache
	Backtester   *backtest.Runner
	Runs         *persistence.BacktestRepo
}

// Server is the HTTP front of the gateway.
type Server struct {
	router *mux.Router
	srv    *http.Server
	deps   Deps
	log    zerolog.Logger
}

// NewServer builds the server and its routes.
func NewServer(addr string, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		log:    log.With().Str("component", "httpapi").Logger(),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/ohlcv", s.handleOHLCV).Methods(http.MethodGet)
	s.router.HandleFunc("/indicators/{name}", s.handleIndicator).Methods(http.MethodGet)
	s.router.HandleFunc("/regime", s.handleRegime).Methods(http.MethodGet)
	s.router.HandleFunc("/context/enriched", s.handleEnriched).Methods(http.MethodGet)
	s.router.HandleFunc("/context/mtf-quick", s.handleQuick).Methods(http.MethodGet)
	s.router.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	s.router.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)
	s.router.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	s.router.HandleFunc("/backtest/runs", s.handleBacktestRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := s.log.With().Str("request_id", id).Logger().WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(elapsed.Seconds())
		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fredrousseau/midas-sub000/internal/backtest"
	"github.com/fredrousseau/midas-sub000/internal/compose"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/indicators"
	"github.com/fredrousseau/midas-sub000/internal/marketdata"
	"github.com/fredrousseau/midas-sub000/internal/model"
	"github.com/fredrousseau/midas-sub000/internal/mtf"
)

func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tf, err := model.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return
	}
	count := intParam(q.Get("count"), 100)
	from, err := millisParam(q.Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := millisParam(q.Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	asOf, err := millisParam(q.Get("analysisDate"))
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.deps.Provider.LoadOHLCV(r.Context(), marketdata.LoadRequest{
		Symbol:     q.Get("symbol"),
		Timeframe:  tf,
		Count:      count,
		From:       from,
		To:         to,
		AsOf:       asOf,
		UseCache:   true,
		DetectGaps: true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := mux.Vars(r)["name"]
	tf, err := model.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return
	}
	bars := intParam(q.Get("bars"), 100)
	offset := intParam(q.Get("offset"), 0)
	asOf, err := millisParam(q.Get("analysisDate"))
	if err != nil {
		writeError(w, err)
		return
	}

	var overrides indicators.Config
	if raw := q.Get("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			writeError(w, fmt.Errorf("%w: config must be a JSON object of numbers", errs.ErrInvalidInput))
			return
		}
	}

	warmup, err := s.deps.Engine.RequiredWarmup(indicators.SeriesRequest{name: overrides})
	if err != nil {
		writeError(w, err)
		return
	}
	loaded, err := s.deps.Provider.LoadOHLCV(r.Context(), marketdata.LoadRequest{
		Symbol:    q.Get("symbol"),
		Timeframe: tf,
		Count:     bars + offset + warmup,
		AsOf:      asOf,
		UseCache:  true,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	series, err := s.deps.Engine.IndicatorTimeSeries(loaded.Bars, name, overrides, bars, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tf, err := model.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return
	}
	count := intParam(q.Get("count"), 300)
	asOf, err := millisParam(q.Get("analysisDate"))
	if err != nil {
		writeError(w, err)
		return
	}

	loaded, err := s.deps.Provider.LoadOHLCV(r.Context(), marketdata.LoadRequest{
		Symbol:    q.Get("symbol"),
		Timeframe: tf,
		Count:     count,
		AsOf:      asOf,
		UseCache:  true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	cls, err := s.deps.Detector.Detect(loaded.Bars, tf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cls)
}

func (s *Server) handleEnriched(w http.ResponseWriter, r *http.Request) {
	req, err := mtfRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	enriched, err := s.deps.Orchestrator.Enriched(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context":         enriched,
		"trading_context": compose.Compose(enriched),
	})
}

func (s *Server) handleQuick(w http.ResponseWriter, r *http.Request) {
	req, err := mtfRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	quick, err := s.deps.Orchestrator.Quick(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quick)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, fmt.Errorf("%w: cache disabled", errs.ErrCacheUnavailable))
		return
	}
	stats, err := s.deps.Cache.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, fmt.Errorf("%w: cache disabled", errs.ErrCacheUnavailable))
		return
	}
	q := r.URL.Query()
	var tf model.Timeframe
	if raw := q.Get("timeframe"); raw != "" {
		parsed, err := model.ParseTimeframe(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
			return
		}
		tf = parsed
	}
	if err := s.deps.Cache.Clear(r.Context(), q.Get("symbol"), tf); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type backtestBody struct {
	Symbol    string `json:"symbol"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var body backtestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: malformed JSON body", errs.ErrInvalidInput))
		return
	}
	tf, err := model.ParseTimeframe(body.Timeframe)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return
	}
	start, err := millisParam(body.StartDate)
	if err != nil || start == nil {
		writeError(w, fmt.Errorf("%w: startDate required", errs.ErrInvalidInput))
		return
	}
	end, err := millisParam(body.EndDate)
	if err != nil || end == nil {
		writeError(w, fmt.Errorf("%w: endDate required", errs.ErrInvalidInput))
		return
	}

	result, err := s.deps.Backtester.Run(r.Context(), backtest.Request{
		Symbol:    body.Symbol,
		Timeframe: tf,
		Start:     *start,
		End:       *end,
		Strategy:  body.Strategy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Save(r.Context(), result); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("persist backtest run")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBacktestRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, fmt.Errorf("%w: no database configured", errs.ErrStoreUnavailable))
		return
	}
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		writeError(w, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput))
		return
	}
	runs, err := s.deps.Runs.Recent(r.Context(), symbol, intParam(q.Get("limit"), 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	})
}

// mtfRequest reads the temporality map from the long/medium/short query
// parameters.
func mtfRequest(r *http.Request) (mtf.Request, error) {
	q := r.URL.Query()
	req := mtf.Request{
		Symbol:     q.Get("symbol"),
		Timeframes: make(map[mtf.Role]model.Timeframe),
	}
	for _, role := range []mtf.Role{mtf.RoleLong, mtf.RoleMedium, mtf.RoleShort} {
		raw := q.Get(string(role))
		if raw == "" {
			continue
		}
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			return mtf.Request{}, fmt.Errorf("%w: %s: %v", errs.ErrInvalidInput, role, err)
		}
		req.Timeframes[role] = tf
	}
	asOf, err := millisParam(q.Get("analysisDate"))
	if err != nil {
		return mtf.Request{}, err
	}
	req.AsOf = asOf
	return req, nil
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

// millisParam accepts an epoch-milliseconds integer or an RFC 3339 date.
func millisParam(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &ms, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		ms := t.UnixMilli()
		return &ms, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		ms := t.UnixMilli()
		return &ms, nil
	}
	return nil, fmt.Errorf("%w: bad date %q, want epoch ms or RFC 3339", errs.ErrInvalidInput, raw)
}

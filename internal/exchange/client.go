// Package exchange implements the upstream spot-exchange REST adapter:
// bounded-page candle fetch, spot price and symbol listing, with retry,
// rate limiting and a circuit breaker in front of the HTTP transport.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/errs"
	"github.com/fredrousseau/midas-sub000/internal/metrics"
	"github.com/fredrousseau/midas-sub000/internal/model"
)

const (
	retryAttempts  = 3
	retryBase      = 100 * time.Millisecond
	retryCap       = 5 * time.Second
	defaultTimeout = 15 * time.Second
)

// PairFilter narrows ListPairs results. Zero fields match everything.
type PairFilter struct {
	QuoteAsset  string
	BaseAsset   string
	Status      string
	Permissions []string
}

// PairInfo describes one tradable symbol.
type PairInfo struct {
	Symbol              string   `json:"symbol"`
	BaseAsset           string   `json:"base_asset"`
	QuoteAsset          string   `json:"quote_asset"`
	Status              string   `json:"status"`
	Permissions         []string `json:"permissions"`
	BaseAssetPrecision  int      `json:"base_asset_precision"`
	QuoteAssetPrecision int      `json:"quote_asset_precision"`
	SpotTradingAllowed  bool     `json:"spot_trading_allowed"`
	MarginAllowed       bool     `json:"margin_allowed"`
}

// Client is the stateless adapter to the upstream spot REST API.
type Client struct {
	baseURL  string
	maxLimit int
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.ExchangeConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := log.With().Str("component", "exchange").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxLimit: cfg.MaxLimit,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(20), 40), // 20 rps, small burst headroom
		breaker:  cb,
		log:      logger,
	}
}

// MaxLimit is the largest page size a single klines call may request.
func (c *Client) MaxLimit() int { return c.maxLimit }

// FetchCandles fetches up to count candles for symbol/timeframe ending at
// to (or the latest if nil). The count is clamped to the exchange page
// limit; results are sorted ascending and OHLC-validated.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, count int, from, to *int64) ([]model.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", errs.ErrInvalidInput, tf)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1", errs.ErrInvalidInput)
	}
	if count > c.maxLimit {
		count = c.maxLimit
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(count))
	if from != nil {
		params.Set("startTime", strconv.FormatInt(*from, 10))
	}
	if to != nil {
		params.Set("endTime", strconv.FormatInt(*to, 10))
	}

	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed klines payload: %v", errs.ErrUpstream, err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		// Kline format: [openTime, open, high, low, close, volume, closeTime, ...]
		if len(k) < 6 {
			return nil, fmt.Errorf("%w: kline row with %d fields", errs.ErrUpstream, len(k))
		}
		openTime, ok := k[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric kline open time", errs.ErrUpstream)
		}
		open, err1 := klineFloat(k[1])
		high, err2 := klineFloat(k[2])
		low, err3 := klineFloat(k[3])
		cls, err4 := klineFloat(k[4])
		vol, err5 := klineFloat(k[5])
		if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
		}
		candle := model.Candle{
			Timestamp: int64(openTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
			Symbol:    symbol,
		}
		if err := candle.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidOHLC, err)
		}
		candles = append(candles, candle)
	}
	model.SortCandles(candles)
	return candles, nil
}

// GetPrice returns the current spot price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("%w: empty symbol", errs.ErrInvalidInput)
	}
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("%w: malformed ticker payload: %v", errs.ErrUpstream, err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric price %q", errs.ErrUpstream, out.Price)
	}
	return price, nil
}

// ListPairs returns tradable symbols matching the filter.
func (c *Client) ListPairs(ctx context.Context, filter PairFilter) ([]PairInfo, error) {
	body, err := c.get(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbols []struct {
			Symbol              string   `json:"symbol"`
			BaseAsset           string   `json:"baseAsset"`
			QuoteAsset          string   `json:"quoteAsset"`
			Status              string   `json:"status"`
			Permissions         []string `json:"permissions"`
			BaseAssetPrecision  int      `json:"baseAssetPrecision"`
			QuoteAssetPrecision int      `json:"quoteAssetPrecision"`
			IsSpotTrading       bool     `json:"isSpotTradingAllowed"`
			IsMarginTrading     bool     `json:"isMarginTradingAllowed"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed exchangeInfo payload: %v", errs.ErrUpstream, err)
	}

	pairs := make([]PairInfo, 0, len(out.Symbols))
	for _, s := range out.Symbols {
		if filter.QuoteAsset != "" && !strings.EqualFold(s.QuoteAsset, filter.QuoteAsset) {
			continue
		}
		if filter.BaseAsset != "" && !strings.EqualFold(s.BaseAsset, filter.BaseAsset) {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(s.Status, filter.Status) {
			continue
		}
		if len(filter.Permissions) > 0 && !hasAllPermissions(s.Permissions, filter.Permissions) {
			continue
		}
		pairs = append(pairs, PairInfo{
			Symbol:              s.Symbol,
			BaseAsset:           s.BaseAsset,
			QuoteAsset:          s.QuoteAsset,
			Status:              s.Status,
			Permissions:         s.Permissions,
			BaseAssetPrecision:  s.BaseAssetPrecision,
			QuoteAssetPrecision: s.QuoteAssetPrecision,
			SpotTradingAllowed:  s.IsSpotTrading,
			MarginAllowed:       s.IsMarginTrading,
		})
	}
	return pairs, nil
}

// get performs one GET with rate limiting, circuit breaking, retry with
// full-jitter backoff and the per-request deadline.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.log.Debug().Str("endpoint", endpoint).Int("attempt", attempt+1).
				Dur("backoff", delay).Msg("retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTimeout, err)
		}

		body, err := c.doOnce(ctx, endpoint, fullURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint, fullURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &errs.UpstreamError{Status: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, statusClass(err)).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", errs.ErrUpstream)
		}
		return nil, err
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, "2xx").Inc()
	return out.([]byte), nil
}

// backoffDelay returns a full-jitter exponential delay for the given attempt.
func backoffDelay(attempt int) time.Duration {
	max := retryBase << (attempt - 1)
	if max > retryCap {
		max = retryCap
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// retryable reports whether the failure class is worth another attempt:
// transport timeouts, DNS, connection refused, and 429/5xx upstream statuses.
func retryable(err error) bool {
	if errors.Is(err, errs.ErrTimeout) {
		return true
	}
	var ue *errs.UpstreamError
	if errors.As(err, &ue) {
		switch ue.Status {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func statusClass(err error) string {
	var ue *errs.UpstreamError
	if errors.As(err, &ue) {
		return fmt.Sprintf("%dxx", ue.Status/100)
	}
	if errors.Is(err, errs.ErrTimeout) {
		return "timeout"
	}
	return "error"
}

func klineFloat(v any) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected kline field type %T", v)
	}
}

func hasAllPermissions(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Package errs defines the gateway's error kinds and their mapping onto
// HTTP status codes. Components wrap these sentinels with fmt.Errorf("%w")
// so callers can classify failures with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput marks request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream marks a non-2xx response from the exchange.
	ErrUpstream = errors.New("upstream error")
	// ErrTimeout marks a deadline exceeded talking to the exchange or store.
	ErrTimeout = errors.New("timeout")
	// ErrInsufficientData marks too few bars or a null indicator tail.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInsufficientHistory marks a shortfall after as-of clipping.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidOHLC marks a bar that fails OHLC validation.
	ErrInvalidOHLC = errors.New("invalid ohlc data")
	// ErrCacheUnavailable marks an unreachable backing store.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrStoreUnavailable marks a disabled or unreachable database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInternal marks a bug.
	ErrInternal = errors.New("internal error")
)

// UpstreamError carries the upstream HTTP status and response body. It
// unwraps to ErrUpstream.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Kind returns the wire name of an error's kind, used in JSON error bodies.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidOHLC):
		return "invalid_ohlc"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrCacheUnavailable):
		return "cache_unavailable"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps an error kind to the status code it surfaces as.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInvalidOHLC), errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrInsufficientData), errors.Is(err, ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheResults counts segment cache lookups by outcome (full, partial, miss).
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midas_cache_lookups_total",
		Help: "Segment cache lookups by coverage outcome.",
	}, []string{"outcome"})

	// CacheEvictions counts candles evicted from segments.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "midas_cache_evictions_total",
		Help: "Candles evicted from cache segments.",
	})

	// UpstreamRequests counts exchange API calls by endpoint and status class.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midas_upstream_requests_total",
		Help: "Upstream exchange requests by endpoint and status class.",
	}, []string{"endpoint", "status"})

	// UpstreamLatency observes exchange API latency by endpoint.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "midas_upstream_latency_seconds",
		Help:    "Upstream exchange request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// HTTPDuration observes served request latency by route and code.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "midas_http_request_duration_seconds",
		Help:    "Served HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
)

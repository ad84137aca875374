// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package metrics exposes Prometheus instrumentation for the CacheStore and
// RequestPipeline. The in-memory internal/stats.Stats struct remains the
// source of truth (§3.2); these vectors mirror it for scraping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts CacheStore.get/get_data hits, labeled by cache name
	// ("image", "thumbnail", "failure").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbnailer_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses counts lookups that found no live entry.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbnailer_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// CacheEntries tracks the current entry count per cache (§3.2 size).
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thumbnailer_cache_entries",
			Help: "Current number of entries in the cache",
		},
		[]string{"cache"},
	)

	// CacheBytes tracks size_in_bytes per cache.
	CacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thumbnailer_cache_bytes",
			Help: "Current size in bytes of the cache",
		},
		[]string{"cache"},
	)

	// CacheEvictions counts evictions by cache and reason ("lru", "ttl").
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbnailer_cache_evictions_total",
			Help: "Total number of evicted entries",
		},
		[]string{"cache", "reason"},
	)

	// ExtractorDuration measures extractor (local or remote) call latency.
	ExtractorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thumbnailer_extractor_duration_seconds",
			Help:    "Duration of extractor invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"}, // kind: local, remote-album, remote-artist; outcome: ok, not_found, temporary, hard, cancelled, timeout
	)

	// PipelineRequests counts thumbnail() calls by outcome.
	PipelineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbnailer_pipeline_requests_total",
			Help: "Total number of thumbnail() calls by terminal outcome",
		},
		[]string{"outcome"},
	)

	// InFlightDeduped counts requests that attached to an existing in-flight
	// extraction instead of starting a new one (§8 invariant 5).
	InFlightDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "thumbnailer_pipeline_inflight_deduped_total",
			Help: "Total number of requests that deduplicated onto an in-flight extraction",
		},
	)

	// CircuitBreakerState mirrors gobreaker's state per extractor kind
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thumbnailer_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions counts state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbnailer_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// RateLimiterInUse tracks admitted (in-flight) slots per pool.
	RateLimiterInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thumbnailer_rate_limiter_in_use",
			Help: "Current number of admitted extractor slots",
		},
		[]string{"pool"},
	)

	// RateLimiterWaitDuration measures time spent waiting for admission.
	RateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thumbnailer_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)
)

// RecordExtractor records a single extractor invocation's outcome and
// duration.
func RecordExtractor(kind, outcome string, d time.Duration) {
	ExtractorDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// RecordCacheHit increments the hit counter for the named cache.
func RecordCacheHit(cache string) {
	CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss increments the miss counter for the named cache.
func RecordCacheMiss(cache string) {
	CacheMisses.WithLabelValues(cache).Inc()
}

// RecordEviction increments the eviction counter for the named cache and
// reason ("lru" or "ttl").
func RecordEviction(cache, reason string, n int) {
	CacheEvictions.WithLabelValues(cache, reason).Add(float64(n))
}

// UpdateCacheGauges syncs the entries/bytes gauges to a point-in-time
// snapshot, intended to be called after each mutating CacheStore operation.
func UpdateCacheGauges(cache string, entries, bytes int64) {
	CacheEntries.WithLabelValues(cache).Set(float64(entries))
	CacheBytes.WithLabelValues(cache).Set(float64(bytes))
}

// breakerStateValue maps gobreaker state names to the numeric gauge value
// used by CircuitBreakerState.
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// RecordBreakerTransition updates the gauge and transition counter for a
// circuit breaker's state change.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

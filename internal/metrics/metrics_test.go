// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheHitMiss(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()

	RecordCacheHit("image")
	RecordCacheHit("image")
	RecordCacheMiss("image")

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("image")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("image")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestUpdateCacheGauges(t *testing.T) {
	UpdateCacheGauges("thumbnail", 42, 1024)
	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("thumbnail")); got != 42 {
		t.Errorf("entries = %v, want 42", got)
	}
	if got := testutil.ToFloat64(CacheBytes.WithLabelValues("thumbnail")); got != 1024 {
		t.Errorf("bytes = %v, want 1024", got)
	}
}

func TestRecordEviction(t *testing.T) {
	CacheEvictions.Reset()
	RecordEviction("failure", "ttl", 3)
	if got := testutil.ToFloat64(CacheEvictions.WithLabelValues("failure", "ttl")); got != 3 {
		t.Errorf("evictions = %v, want 3", got)
	}
}

func TestRecordExtractor(t *testing.T) {
	RecordExtractor("local", "ok", 15*time.Millisecond)
}

func TestBreakerStateValue(t *testing.T) {
	cases := map[string]float64{"closed": 0, "half-open": 1, "open": 2, "unknown": -1}
	for state, want := range cases {
		if got := breakerStateValue(state); got != want {
			t.Errorf("breakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	CircuitBreakerTransitions.Reset()
	RecordBreakerTransition("remote-album", "closed", "open")
	if got := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("remote-album", "closed", "open")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("remote-album")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
}

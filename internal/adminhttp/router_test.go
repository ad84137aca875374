// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package adminhttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/thumbnailer/internal/stats"
	"github.com/tomtom215/thumbnailer/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.Config{MaxSizeInBytes: 1 << 20, Policy: stats.PolicyLRUOnly})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHealthzAlwaysOK(t *testing.T) {
	r := NewRouter(Config{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
}

func TestReadyzReflectsCheck(t *testing.T) {
	r := NewRouter(Config{ReadyCheck: func() error { return errors.New("cold cache") }})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz = %d, want 503", rec.Code)
	}
}

func TestStatsUnknownCache(t *testing.T) {
	r := NewRouter(Config{Stores: map[string]*store.Store{"thumbnail": openTestStore(t)}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats/image", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /stats/image = %d, want 404", rec.Code)
	}
}

func TestStatsAndCompact(t *testing.T) {
	r := NewRouter(Config{Stores: map[string]*store.Store{"thumbnail": openTestStore(t)}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats/thumbnail", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats/thumbnail = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats/thumbnail/compact", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /stats/thumbnail/compact = %d, want 200", rec.Code)
	}
}

func TestStatsTextFormat(t *testing.T) {
	r := NewRouter(Config{Stores: map[string]*store.Store{"thumbnail": openTestStore(t)}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats/thumbnail?format=text", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats/thumbnail?format=text = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("text stats report body is empty")
	}
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package adminhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/store"
)

type handler struct {
	stores    map[string]*store.Store
	ready     func() error
	startedAt time.Time
}

// writeJSON encodes data as JSON. Errors are logged, not surfaced, since
// headers are already sent by the time encoding can fail.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("adminhttp: failed to encode response")
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// live answers /healthz: 200 as long as the process is alive, regardless
// of cache or dependency health. Mirrors the liveness-vs-readiness split
// the original daemon's health surface makes (§9).
func (h *handler) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startedAt).Seconds(),
	})
}

// ready_ answers /readyz: 503 if the configured ReadyCheck reports an error.
func (h *handler) ready_(w http.ResponseWriter, _ *http.Request) {
	if h.ready == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	if err := h.ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) *store.Store {
	name := chi.URLParam(r, "cache")
	s, ok := h.stores[name]
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown cache: "+name)
		return nil
	}
	return s
}

// stats answers GET /stats/{cache} with the cache's current snapshot
// (§3.2): counts, histogram, hit/miss runs. ?format=text switches to the
// same human-readable report thumbnailer-bench's -stats flag prints.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.Stats().Format()))
		_, _ = w.Write([]byte(s.Stats().FormatHistogram()))
		return
	}
	writeJSON(w, http.StatusOK, s.Stats().Snapshot())
}

// compact answers POST /stats/{cache}/compact, synchronously invoking the
// same badger value-log GC loop the janitor's idle CompactionService runs
// on a timer (§9).
func (h *handler) compact(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	if err := s.Compact(); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}

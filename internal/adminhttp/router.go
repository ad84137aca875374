// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package adminhttp exposes the operational HTTP surface (§9): liveness
// and readiness probes, per-cache stats, a compaction trigger, and
// Prometheus metrics. It carries no request-domain routes — thumbnail
// requests are driven by the caller, not served over HTTP by this
// package.
package adminhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/thumbnailer/internal/store"
)

// Config controls router construction.
type Config struct {
	// Stores maps a cache name ("image", "thumbnail", "failure") to its
	// Store, used by /stats/{cache} and /stats/{cache}/compact. A nil or
	// empty map still serves /healthz and /metrics.
	Stores map[string]*store.Store

	// ReadyCheck reports whether the process is ready to serve traffic.
	// If nil, readiness always reports true once the router is built.
	ReadyCheck func() error

	// CORSAllowedOrigins defaults to empty, matching the teacher's
	// secure-by-default stance of requiring explicit configuration.
	CORSAllowedOrigins []string

	// RateLimitRequests and RateLimitWindow bound the stats/compact
	// surface; defaults are 60 requests per minute per client IP.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func (c Config) rateLimit() (int, time.Duration) {
	n, w := c.RateLimitRequests, c.RateLimitWindow
	if n <= 0 {
		n = 60
	}
	if w <= 0 {
		w = time.Minute
	}
	return n, w
}

// NewRouter builds the admin HTTP handler described by cfg.
func NewRouter(cfg Config) http.Handler {
	h := &handler{stores: cfg.Stores, ready: cfg.ReadyCheck, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.live)
	r.Get("/readyz", h.ready_)

	reqs, window := cfg.rateLimit()
	r.Route("/stats", func(r chi.Router) {
		r.Use(httprate.LimitByIP(reqs, window))
		r.Get("/{cache}", h.stats)
		r.Post("/{cache}/compact", h.compact)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

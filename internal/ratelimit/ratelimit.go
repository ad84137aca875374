// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package ratelimit bounds concurrent extraction work per source kind
// (§4.6): local subprocess extraction is capped by available CPU, remote
// downloads by a small fixed pool, and admission is FIFO so requests
// don't starve under sustained load.
package ratelimit

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// DefaultRemoteConcurrency is the admission limit for remote downloads
// absent any override (§4.6 glossary: "a small fixed pool, independent
// of local CPU count").
const DefaultRemoteConcurrency = 2

// Limiter bounds concurrent admission to a resource pool using a
// weighted, FIFO semaphore.
type Limiter struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewLimiter returns a Limiter admitting at most limit concurrent
// holders. limit must be positive.
func NewLimiter(limit int64) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	return &Limiter{sem: semaphore.NewWeighted(limit), limit: limit}, nil
}

// NewLocalLimiter sizes a local-extraction limiter from the host's CPU
// count, clamped to [1, 8] (§4.6: local concurrency tracks available
// cores without letting a large host starve the cache of I/O bandwidth).
func NewLocalLimiter() (*Limiter, error) {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return NewLimiter(int64(n))
}

// NewRemoteLimiter returns a Limiter sized for remote downloads.
func NewRemoteLimiter() (*Limiter, error) {
	return NewLimiter(DefaultRemoteConcurrency)
}

// Limit returns the configured admission bound.
func (l *Limiter) Limit() int64 { return l.limit }

// Acquire blocks, in FIFO order, until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot acquired via Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Run acquires a slot, invokes fn, and releases the slot before
// returning, propagating either the acquisition error or fn's error.
func (l *Limiter) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire: %w", err)
	}
	defer l.Release()
	return fn(ctx)
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package pipeline

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/metrics"
	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
)

// breaker wraps a gobreaker.CircuitBreaker per extractor kind (local
// subprocess, remote download) so that a source in sustained failure
// stops being hammered with work the rate limiter would otherwise keep
// admitting (§4.5).
type breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func newBreaker(name string) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    0,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// run executes fn through the breaker, counting any extraction failure
// against the source's health.
func (b *breaker) run(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("pipeline: %w: %v", pipelineerr.ErrTemporary, err)
	}
	return err
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package pipelineerr defines the error taxonomy surfaced by extractors and
// by internal/pipeline's RequestPipeline.
package pipelineerr

import (
	"errors"

	"github.com/tomtom215/thumbnailer/internal/cacheerr"
)

// ErrNotFound marks a definitive extractor absence (HTTP 404 or equivalent,
// no representative video frame, no embedded cover art). It is the same
// sentinel used by the cache layer so callers can match uniformly.
var ErrNotFound = cacheerr.ErrNotFound

var (
	// ErrTemporary marks a transient extractor failure: timeout, 5xx, 429,
	// connectivity reset. Retried with capped exponential backoff.
	ErrTemporary = errors.New("temporary extractor failure")

	// ErrHard marks a non-retriable, input-specific extractor failure
	// (4xx other than 404, pipeline exit code 2, unrecognized crash).
	ErrHard = errors.New("hard extractor failure")

	// ErrCancelled marks a caller-initiated cancellation. Never recorded in
	// the failure cache.
	ErrCancelled = errors.New("request cancelled")

	// ErrTimeout marks a deadline exceeded on an extractor call. Treated as
	// ErrTemporary for retry purposes.
	ErrTimeout = errors.New("extractor timeout")
)

// IsRetriable reports whether err should be retried with backoff rather than
// surfaced or recorded in the failure cache.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTemporary) || errors.Is(err, ErrTimeout)
}

// IsFailureCacheable reports whether err should be recorded in the failure
// cache (definitive, input-specific outcomes only).
func IsFailureCacheable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrHard)
}

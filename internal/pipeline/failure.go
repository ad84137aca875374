// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
)

// encodeFailure reduces a pipeline error to the fixed, sentinel-bearing
// string stored in the failure cache. Only the classification survives a
// round trip through the cache; the original error text is logged, not
// persisted, since it may embed a local path or URL.
func encodeFailure(err error) []byte {
	switch {
	case errors.Is(err, pipelineerr.ErrNotFound):
		return []byte("not_found")
	case errors.Is(err, pipelineerr.ErrHard):
		return []byte("hard")
	case errors.Is(err, pipelineerr.ErrTimeout):
		return []byte("timeout")
	case errors.Is(err, pipelineerr.ErrTemporary):
		return []byte("temporary")
	default:
		return []byte("hard")
	}
}

// decodeFailure reconstructs a sentinel-wrapped error from a failure
// cache entry written by encodeFailure.
func decodeFailure(data []byte) error {
	switch string(data) {
	case "not_found":
		return fmt.Errorf("pipeline: %w: cached failure", pipelineerr.ErrNotFound)
	case "timeout":
		return fmt.Errorf("pipeline: %w: cached failure", pipelineerr.ErrTimeout)
	case "temporary":
		return fmt.Errorf("pipeline: %w: cached failure", pipelineerr.ErrTemporary)
	default:
		return fmt.Errorf("pipeline: %w: cached failure", pipelineerr.ErrHard)
	}
}

// classifyPipelineFailure normalizes an error returned from the rate
// limiter/breaker/retry stack: a cancelled caller context always reports
// as ErrCancelled regardless of what the underlying extractor returned,
// since retrying or caching that outcome would be meaningless.
func classifyPipelineFailure(err error, log zerolog.Logger) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline: %w", pipelineerr.ErrCancelled)
	}
	log.Warn().Err(err).Msg("extraction failed")
	return err
}

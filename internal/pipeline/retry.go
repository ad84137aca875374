// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
)

// maxAttempts bounds retries on a temporary extraction failure. A hard
// failure is never retried regardless of this bound (§4.5).
const maxAttempts = 4

// retry runs op with exponential backoff, retrying only errors that
// pipelineerr.IsRetriable reports as transient. A hard or cancelled
// failure is wrapped in backoff.Permanent so the first attempt is final.
func retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	wrapped := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !pipelineerr.IsRetriable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxAttempts),
	)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

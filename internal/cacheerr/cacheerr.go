// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package cacheerr defines the error taxonomy surfaced by internal/store's
// CacheStore operations.
package cacheerr

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is. CacheStore operations wrap these
// with fmt.Errorf("%w: ...") to add context; callers should match on the
// sentinel, not the formatted message.
var (
	// ErrInvalidArgument marks API misuse: empty key, non-positive max size,
	// out-of-range event mask, negative expiry under the wrong policy.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfigMismatch marks opening an existing cache whose persisted
	// max_size or policy disagrees with the values supplied to open.
	ErrConfigMismatch = errors.New("config mismatch")

	// ErrNotFound marks a key absent or expired at the point it was looked up.
	ErrNotFound = errors.New("not found")

	// ErrLoaderFailed marks a get_or_put loader that returned an error
	// instead of calling put.
	ErrLoaderFailed = errors.New("loader failed")
)

// CorruptionError wraps a checksum or format failure reported by the
// underlying store. Recovery requires deleting the cache directory named
// by Path.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache corruption at %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// StoreError wraps any underlying-store failure that is not corruption and
// not a recognized "not found" condition.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err represents an absent or expired entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorruption reports whether err is a *CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

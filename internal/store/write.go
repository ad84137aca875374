// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/thumbnailer/internal/cacheerr"
	"github.com/tomtom215/thumbnailer/internal/codec"
	"github.com/tomtom215/thumbnailer/internal/stats"
)

// PutOptions controls an individual Put call.
type PutOptions struct {
	// ExpiryMs is an absolute Unix-epoch-milliseconds deadline. It must be
	// codec.SentinelExpiry (never expires) unless the cache was opened
	// with the lru_ttl policy (§4.3: put rejects a non-sentinel expiry
	// under lru_only).
	ExpiryMs int64

	// Metadata, if non-nil, is stored alongside data. A nil Metadata on an
	// update to an existing key deletes any previously stored metadata
	// (§4.3: "put without metadata clears prior metadata").
	Metadata []byte
}

// Put stores data under key, evicting existing entries first if needed to
// stay within the configured size bound (§4.3: put).
func (s *Store) Put(key, data []byte, opts PutOptions) error {
	if err := s.validatePut(key, data, opts); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, data, opts)
}

func (s *Store) validatePut(key, data []byte, opts PutOptions) error {
	if len(key) == 0 {
		return fmt.Errorf("store: %w: key must not be empty", cacheerr.ErrInvalidArgument)
	}
	recordSize := recordSizeOf(key, data, opts.Metadata)
	if recordSize > s.config.MaxSizeInBytes {
		return fmt.Errorf("store: %w: record of %d bytes exceeds cache bound of %d bytes", cacheerr.ErrInvalidArgument, recordSize, s.config.MaxSizeInBytes)
	}
	if opts.ExpiryMs != codec.SentinelExpiry {
		if s.config.Policy != stats.PolicyLRUTTL {
			return fmt.Errorf("store: %w: non-sentinel expiry requires the lru_ttl policy", cacheerr.ErrInvalidArgument)
		}
		if opts.ExpiryMs <= now() {
			return fmt.Errorf("store: %w: expiry %d is not in the future", cacheerr.ErrInvalidArgument, opts.ExpiryMs)
		}
	}
	return nil
}

// recordSizeOf computes the record-size the GLOSSARY and §3.1 define:
// the sum of the user key, the value, and any metadata, all of which
// occupy space in the underlying cache.
func recordSizeOf(key, data, metadata []byte) int64 {
	return int64(len(key) + len(data) + len(metadata))
}

// putLocked performs the store, assuming s.mu is already held by the
// caller (Put, or GetOrPut's atomic miss path).
func (s *Store) putLocked(key, data []byte, opts PutOptions) error {
	recordSize := recordSizeOf(key, data, opts.Metadata)

	if err := s.evictForSpace(recordSize, key); err != nil {
		return err
	}

	var replacedSize int64
	var hadPrior bool

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if err == nil {
			hadPrior = true
			var priorHdr codec.Header
			if err := item.Value(func(v []byte) error {
				priorHdr, err = codec.DecodeHeader(v)
				return err
			}); err != nil {
				return fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
			}
			replacedSize = priorHdr.RecordSize
			if err := s.removeIndexRows(txn, key, priorHdr); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("store: read prior header: %w", err)
		}

		accessMs := now()
		hdr := codec.Header{AccessMs: accessMs, ExpiryMs: opts.ExpiryMs, RecordSize: recordSize}

		if err := txn.Set(valueKey(key), codec.EncodeHeader(hdr)); err != nil {
			return err
		}
		if err := txn.Set(dataKey(key), data); err != nil {
			return err
		}
		if opts.Metadata != nil {
			if err := txn.Set(metadataKey(key), opts.Metadata); err != nil {
				return err
			}
		} else {
			if err := txn.Delete(metadataKey(key)); err != nil {
				return err
			}
		}

		atk, err := atimeIndexKey(accessMs, key)
		if err != nil {
			return err
		}
		if err := txn.Set(atk, encodeSize(recordSize)); err != nil {
			return err
		}
		if opts.ExpiryMs != codec.SentinelExpiry {
			etk, err := etimeIndexKey(opts.ExpiryMs, key)
			if err != nil {
				return err
			}
			if err := txn.Set(etk, encodeSize(recordSize)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}

	if hadPrior {
		s.stats.Decrement(replacedSize)
	}
	s.stats.Increment(recordSize)
	s.fireEvent(Event{Kind: EventPut, Key: append([]byte(nil), key...), Size: recordSize})
	return nil
}

// PutMetadata rewrites only the metadata row for an existing entry,
// leaving the stored data untouched. Metadata contributes to record-size
// like any other field (§3.1 GLOSSARY), so growing it can trigger
// eviction of other entries — but never of the entry being modified
// (§4.3: put_metadata).
func (s *Store) PutMetadata(key, metadata []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr codec.Header
	var oldMetadataLen int
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := item.Value(func(v []byte) error {
			hdr, err = codec.DecodeHeader(v)
			return err
		}); err != nil {
			return fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
		}
		mItem, err := txn.Get(metadataKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return mItem.Value(func(v []byte) error {
			oldMetadataLen = len(v)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("store: put_metadata: %w", err)
	}
	if !found {
		return fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}

	newRecordSize := hdr.RecordSize - int64(oldMetadataLen) + int64(len(metadata))
	if delta := newRecordSize - hdr.RecordSize; delta > 0 {
		if err := s.evictForSpace(delta, key); err != nil {
			return err
		}
	}

	newHdr := codec.Header{AccessMs: hdr.AccessMs, ExpiryMs: hdr.ExpiryMs, RecordSize: newRecordSize}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(valueKey(key), codec.EncodeHeader(newHdr)); err != nil {
			return err
		}
		atk, err := atimeIndexKey(hdr.AccessMs, key)
		if err != nil {
			return err
		}
		if err := txn.Set(atk, encodeSize(newRecordSize)); err != nil {
			return err
		}
		if hdr.ExpiryMs != codec.SentinelExpiry {
			etk, err := etimeIndexKey(hdr.ExpiryMs, key)
			if err != nil {
				return err
			}
			if err := txn.Set(etk, encodeSize(newRecordSize)); err != nil {
				return err
			}
		}
		if metadata != nil {
			return txn.Set(metadataKey(key), metadata)
		}
		return txn.Delete(metadataKey(key))
	})
	if err != nil {
		return fmt.Errorf("store: put_metadata: %w", err)
	}

	s.stats.Decrement(hdr.RecordSize)
	s.stats.Increment(newRecordSize)
	s.fireEvent(Event{Kind: EventPut, Key: append([]byte(nil), key...), Size: newRecordSize})
	return nil
}

// Touch refreshes an entry's access time without reading its payload
// (§4.3: touch), useful when a caller already has the data in hand from
// elsewhere and only needs to keep the entry warm against LRU eviction.
func (s *Store) Touch(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var hdr codec.Header
		if err := item.Value(func(v []byte) error {
			hdr, err = codec.DecodeHeader(v)
			return err
		}); err != nil {
			return fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
		}
		found = true
		return s.refreshAccessTime(txn, key, hdr)
	})
	if err != nil {
		return fmt.Errorf("store: touch: %w", err)
	}
	if !found {
		return fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}
	return nil
}

// Invalidate removes a single entry. Missing keys are not an error
// (§4.3: invalidate is idempotent).
func (s *Store) Invalidate(key []byte) error {
	return s.InvalidateMany([][]byte{key})
}

// InvalidateMany removes a batch of entries as one write, firing one
// EventInvalidate per key actually removed.
func (s *Store) InvalidateMany(keys [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type removed struct {
		key  []byte
		size int64
	}
	var gone []removed

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(valueKey(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var hdr codec.Header
			if err := item.Value(func(v []byte) error {
				hdr, err = codec.DecodeHeader(v)
				return err
			}); err != nil {
				return fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
			}
			if err := s.deleteEntry(txn, key); err != nil {
				return err
			}
			gone = append(gone, removed{key: append([]byte(nil), key...), size: hdr.RecordSize})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: invalidate: %w", err)
	}

	for _, r := range gone {
		s.stats.Decrement(r.size)
		s.fireEvent(Event{Kind: EventInvalidate, Key: r.key, Size: r.size})
	}
	return nil
}

// InvalidateAll removes every entry, preserving settings (§4.3: invalidate
// with no key argument).
func (s *Store) InvalidateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wipeUserRows(); err != nil {
		return fmt.Errorf("store: invalidate all: %w", err)
	}
	s.stats.RebuildFromSizes(nil)
	s.fireEvent(Event{Kind: EventInvalidate})
	return nil
}

// Resize changes the size bound. A shrink triggers an immediate eviction
// pass down to the new bound (§4.3: resize).
func (s *Store) Resize(newMaxSizeInBytes int64) error {
	if newMaxSizeInBytes <= 0 {
		return fmt.Errorf("store: %w: new max size must be positive", cacheerr.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config.MaxSizeInBytes = newMaxSizeInBytes
	s.stats.SetMaxSizeInBytes(newMaxSizeInBytes)
	if err := s.writeSettings(s.config, currentSchemaVersion); err != nil {
		return fmt.Errorf("store: persist resized settings: %w", err)
	}
	return s.evictForSpace(0, nil)
}

// TrimTo evicts entries until the cache holds at most targetSizeInBytes,
// without changing the persisted size bound (§4.3: trim_to).
func (s *Store) TrimTo(targetSizeInBytes int64) error {
	if targetSizeInBytes < 0 {
		return fmt.Errorf("store: %w: target size must be non-negative", cacheerr.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictToTarget(targetSizeInBytes)
}

// Loader produces the value to store for a missing key inside GetOrPut.
// It must not call any Store method itself: GetOrPut holds the store's
// single writer lock for the duration of the call, including the load,
// so a reentrant call would deadlock (§4.3, §9 open question (iii)).
type Loader func() (data []byte, opts PutOptions, err error)

// GetOrPut returns the current value for key, invoking load and storing
// its result only if key is absent. The whole check-then-load-then-store
// sequence runs under one acquisition of the store's lock, so concurrent
// GetOrPut calls for the same missing key never both invoke load. If load
// returns cacheerr.ErrLoaderFailed, GetOrPut reports a miss rather than
// storing anything (§9 open question (iii)).
func (s *Store) GetOrPut(key []byte, load Loader) (data []byte, loaded bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	var found bool
	lookupErr := s.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, found, err = s.lookup(txn, key, true, false)
		if err != nil || !found {
			return err
		}
		return s.refreshAccessTime(txn, key, rec.header)
	})
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if found {
		s.stats.RecordHit(time.Now())
		return rec.data, false, nil
	}

	s.stats.RecordMiss(time.Now())

	loadedData, opts, err := load()
	if errors.Is(err, cacheerr.ErrLoaderFailed) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get_or_put loader: %w", err)
	}

	if err := s.validatePut(key, loadedData, opts); err != nil {
		return nil, false, err
	}
	if err := s.putLocked(key, loadedData, opts); err != nil {
		return nil, false, err
	}
	return loadedData, true, nil
}

// removeIndexRows deletes the ATime/ETime index rows for an entry whose
// header is about to be replaced or removed, based on the header's
// current access/expiry timestamps.
func (s *Store) removeIndexRows(txn *badger.Txn, key []byte, hdr codec.Header) error {
	atk, err := atimeIndexKey(hdr.AccessMs, key)
	if err != nil {
		return err
	}
	if err := txn.Delete(atk); err != nil {
		return err
	}
	if hdr.ExpiryMs != codec.SentinelExpiry {
		etk, err := etimeIndexKey(hdr.ExpiryMs, key)
		if err != nil {
			return err
		}
		if err := txn.Delete(etk); err != nil {
			return err
		}
	}
	return nil
}

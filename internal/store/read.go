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

// record is the in-memory view of a stored entry's header plus payload.
type record struct {
	header   codec.Header
	data     []byte
	metadata []byte
	hasMeta  bool
}

// lookup reads the header and, if requested, the data/metadata rows for
// key. found is false (with a zero record) if no header row exists or the
// entry has passed its expiry and a TTL policy is in effect; in the
// latter case the stale rows are deleted as a side effect so a later
// eviction pass doesn't trip over them.
func (s *Store) lookup(txn *badger.Txn, key []byte, wantData, wantMeta bool) (rec record, found bool, err error) {
	item, err := txn.Get(valueKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("store: read header: %w", err)
	}

	var hdr codec.Header
	if err := item.Value(func(v []byte) error {
		hdr, err = codec.DecodeHeader(v)
		return err
	}); err != nil {
		return record{}, false, fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
	}

	if s.expired(hdr) {
		return record{}, false, nil
	}

	rec = record{header: hdr}

	if wantData {
		item, err := txn.Get(dataKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return record{}, false, fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: fmt.Errorf("missing data row for %q", key)})
		}
		if err != nil {
			return record{}, false, fmt.Errorf("store: read data: %w", err)
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return record{}, false, fmt.Errorf("store: copy data: %w", err)
		}
		rec.data = data
	}

	if wantMeta {
		item, err := txn.Get(metadataKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// metadata is optional; absence is not corruption.
		} else if err != nil {
			return record{}, false, fmt.Errorf("store: read metadata: %w", err)
		} else {
			meta, err := item.ValueCopy(nil)
			if err != nil {
				return record{}, false, fmt.Errorf("store: copy metadata: %w", err)
			}
			rec.metadata = meta
			rec.hasMeta = true
		}
	}

	return rec, true, nil
}

func (s *Store) expired(hdr codec.Header) bool {
	if s.config.Policy != stats.PolicyLRUTTL {
		return false
	}
	if hdr.ExpiryMs == codec.SentinelExpiry {
		return false
	}
	return now() >= hdr.ExpiryMs
}

// Get retrieves data and metadata for key, counting a hit or miss and, on
// a hit, refreshing the entry's access time (§4.3: get).
func (s *Store) Get(key []byte) (data []byte, metadata []byte, hasMeta bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	var found bool
	err = s.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, found, err = s.lookup(txn, key, true, true)
		if err != nil || !found {
			return err
		}
		return s.refreshAccessTime(txn, key, rec.header)
	})
	if err != nil {
		return nil, nil, false, err
	}

	t := time.Now()
	if !found {
		s.stats.RecordMiss(t)
		return nil, nil, false, fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}
	s.stats.RecordHit(t)
	return rec.data, rec.metadata, rec.hasMeta, nil
}

// GetData is Get without the metadata payload, avoiding the extra row
// read when a caller only needs the cached bytes.
func (s *Store) GetData(key []byte) (data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	var found bool
	err = s.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, found, err = s.lookup(txn, key, true, false)
		if err != nil || !found {
			return err
		}
		return s.refreshAccessTime(txn, key, rec.header)
	})
	if err != nil {
		return nil, err
	}

	t := time.Now()
	if !found {
		s.stats.RecordMiss(t)
		return nil, fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}
	s.stats.RecordHit(t)
	return rec.data, nil
}

// GetMetadata returns only the metadata row, without touching hit/miss
// counters or access time (§4.3: get_metadata does neither).
func (s *Store) GetMetadata(key []byte) (metadata []byte, hasMeta bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	var found bool
	err = s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = s.lookup(txn, key, false, true)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}
	return rec.metadata, rec.hasMeta, nil
}

// Contains reports whether key has a live (non-expired) entry, without
// affecting hit/miss counters or access time (§4.3: contains).
func (s *Store) Contains(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, found, err = s.lookup(txn, key, false, false)
		return err
	})
	return found, err
}

// Take retrieves and atomically removes an entry (§4.3: take). It
// participates in hit/miss counting like Get, but never refreshes access
// time since the entry will not outlive this call.
func (s *Store) Take(key []byte) (data []byte, metadata []byte, hasMeta bool, err error) {
	return s.take(key, true)
}

// TakeData is Take without the metadata payload.
func (s *Store) TakeData(key []byte) (data []byte, err error) {
	d, _, _, err := s.take(key, false)
	return d, err
}

func (s *Store) take(key []byte, wantMeta bool) (data []byte, metadata []byte, hasMeta bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	var found bool
	err = s.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, found, err = s.lookup(txn, key, true, wantMeta)
		if err != nil || !found {
			return err
		}
		return s.deleteEntry(txn, key)
	})
	if err != nil {
		return nil, nil, false, err
	}

	t := time.Now()
	if !found {
		s.stats.RecordMiss(t)
		return nil, nil, false, fmt.Errorf("store: %w", cacheerr.ErrNotFound)
	}
	s.stats.RecordHit(t)
	s.stats.Decrement(rec.header.RecordSize)
	return rec.data, rec.metadata, rec.hasMeta, nil
}

// refreshAccessTime rewrites the header with a new access time and moves
// the ATime secondary index entry to match (§3.1 invariant: the ATime
// index always agrees with the header's access time).
func (s *Store) refreshAccessTime(txn *badger.Txn, key []byte, hdr codec.Header) error {
	oldATimeKey, err := atimeIndexKey(hdr.AccessMs, key)
	if err != nil {
		return err
	}
	if err := txn.Delete(oldATimeKey); err != nil {
		return fmt.Errorf("store: delete stale atime index row: %w", err)
	}

	hdr.AccessMs = now()
	encoded := codec.EncodeHeader(hdr)
	if err := txn.Set(valueKey(key), encoded); err != nil {
		return fmt.Errorf("store: rewrite header: %w", err)
	}

	newATimeKey, err := atimeIndexKey(hdr.AccessMs, key)
	if err != nil {
		return err
	}
	return txn.Set(newATimeKey, encodeSize(hdr.RecordSize))
}

// deleteEntry removes every row associated with key: header, data,
// metadata, and both secondary-index entries.
func (s *Store) deleteEntry(txn *badger.Txn, key []byte) error {
	item, err := txn.Get(valueKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read header before delete: %w", err)
	}
	var hdr codec.Header
	if err := item.Value(func(v []byte) error {
		hdr, err = codec.DecodeHeader(v)
		return err
	}); err != nil {
		return fmt.Errorf("store: %w", &cacheerr.CorruptionError{Path: s.path, Err: err})
	}

	if err := txn.Delete(valueKey(key)); err != nil {
		return err
	}
	if err := txn.Delete(dataKey(key)); err != nil {
		return err
	}
	if err := txn.Delete(metadataKey(key)); err != nil {
		return err
	}
	if atk, err := atimeIndexKey(hdr.AccessMs, key); err == nil {
		if err := txn.Delete(atk); err != nil {
			return err
		}
	}
	if hdr.ExpiryMs != codec.SentinelExpiry {
		if etk, err := etimeIndexKey(hdr.ExpiryMs, key); err == nil {
			if err := txn.Delete(etk); err != nil {
				return err
			}
		}
	}
	return nil
}

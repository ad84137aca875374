// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package store

import (
	"bytes"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/thumbnailer/internal/codec"
	"github.com/tomtom215/thumbnailer/internal/stats"
)

// evictionCandidate is one row pulled off a secondary index scan.
type evictionCandidate struct {
	userKey []byte
	size    int64
}

// evictForSpace makes room for an incoming record of incomingSize bytes,
// optionally excluding excludeKey (the entry about to be overwritten)
// from consideration, then applies s.config.Headroom on top of the
// strict minimum (§4.3 glossary: headroom).
func (s *Store) evictForSpace(incomingSize int64, excludeKey []byte) error {
	current := s.stats.SizeInBytes()
	needed := current + incomingSize - s.config.MaxSizeInBytes
	if needed <= 0 {
		return nil
	}
	needed += s.config.Headroom
	return s.evict(needed, excludeKey)
}

// evictToTarget evicts down to at most targetSizeInBytes, used by both
// TrimTo and a shrinking Resize.
func (s *Store) evictToTarget(targetSizeInBytes int64) error {
	current := s.stats.SizeInBytes()
	needed := current - targetSizeInBytes
	if needed <= 0 {
		return nil
	}
	return s.evict(needed, nil)
}

// evict runs the two-phase algorithm from §4.3: a TTL pass over the
// ETime index (only under the lru_ttl policy), then an LRU pass over the
// ATime index, stopping as soon as bytesNeeded bytes have been freed.
// Both passes' deletes land in a single write batch.
func (s *Store) evict(bytesNeeded int64, excludeKey []byte) error {
	var ttlFreed []evictionCandidate
	var freed int64

	if s.config.Policy == stats.PolicyLRUTTL {
		cands, f, err := s.scanExpired(bytesNeeded, excludeKey)
		if err != nil {
			return fmt.Errorf("store: ttl eviction scan: %w", err)
		}
		ttlFreed = cands
		freed = f
	}

	var lruFreed []evictionCandidate
	if freed < bytesNeeded {
		cands, f, err := s.scanOldest(bytesNeeded-freed, excludeKey, ttlFreed)
		if err != nil {
			return fmt.Errorf("store: lru eviction scan: %w", err)
		}
		lruFreed = cands
		freed += f
	}

	if len(ttlFreed) == 0 && len(lruFreed) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, c := range ttlFreed {
			if err := s.deleteEntry(txn, c.userKey); err != nil {
				return err
			}
		}
		for _, c := range lruFreed {
			if err := s.deleteEntry(txn, c.userKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: commit eviction batch: %w", err)
	}

	for _, c := range ttlFreed {
		s.stats.Decrement(c.size)
		s.stats.RecordTTLEviction()
		s.fireEvent(Event{Kind: EventEvictTTL, Key: c.userKey, Size: c.size})
	}
	for _, c := range lruFreed {
		s.stats.Decrement(c.size)
		s.stats.RecordLRUEviction()
		s.fireEvent(Event{Kind: EventEvictLRU, Key: c.userKey, Size: c.size})
	}
	return nil
}

// SweepExpired removes every entry whose TTL has already elapsed,
// independent of size pressure. It is a no-op under the strict LRU
// policy. This backs the janitor's periodic TTL sweep (§9): without it,
// an expired entry only gets reclaimed once an unrelated Put happens to
// trigger evictForSpace.
func (s *Store) SweepExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Policy != stats.PolicyLRUTTL {
		return 0, nil
	}

	cands, _, err := s.scanExpired(math.MaxInt64, nil)
	if err != nil {
		return 0, fmt.Errorf("store: ttl sweep scan: %w", err)
	}
	if len(cands) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, c := range cands {
			if err := s.deleteEntry(txn, c.userKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: commit ttl sweep batch: %w", err)
	}

	for _, c := range cands {
		s.stats.Decrement(c.size)
		s.stats.RecordTTLEviction()
		s.fireEvent(Event{Kind: EventEvictTTL, Key: c.userKey, Size: c.size})
	}
	return len(cands), nil
}

// scanExpired walks the ETime index in ascending (earliest-expiry-first)
// order, collecting entries whose expiry has already passed, until either
// bytesNeeded bytes have been accounted for or the first non-expired
// entry is reached.
func (s *Store) scanExpired(bytesNeeded int64, excludeKey []byte) ([]evictionCandidate, int64, error) {
	deadline := now()
	var out []evictionCandidate
	var freed int64

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixETime}
		for it.Seek(prefix); it.ValidForPrefix(prefix) && freed < bytesNeeded; it.Next() {
			item := it.Item()
			body := item.Key()[len(prefix):]
			ts, userKey, err := codec.DecodeTimeKey(body)
			if err != nil {
				return fmt.Errorf("%w", &corruptIndexError{path: s.path, err: err})
			}
			if ts > deadline {
				break
			}
			if bytes.Equal(userKey, excludeKey) {
				continue
			}
			var size int64
			if err := item.Value(func(v []byte) error {
				size, err = decodeSize(v)
				return err
			}); err != nil {
				return err
			}
			out = append(out, evictionCandidate{userKey: append([]byte(nil), userKey...), size: size})
			freed += size
		}
		return nil
	})
	return out, freed, err
}

// scanOldest walks the ATime index in ascending (least-recently-used
// first) order, skipping anything already selected by the TTL pass.
func (s *Store) scanOldest(bytesNeeded int64, excludeKey []byte, alreadyChosen []evictionCandidate) ([]evictionCandidate, int64, error) {
	skip := make(map[string]bool, len(alreadyChosen))
	for _, c := range alreadyChosen {
		skip[string(c.userKey)] = true
	}

	var out []evictionCandidate
	var freed int64

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixATime}
		for it.Seek(prefix); it.ValidForPrefix(prefix) && freed < bytesNeeded; it.Next() {
			item := it.Item()
			body := item.Key()[len(prefix):]
			_, userKey, err := codec.DecodeTimeKey(body)
			if err != nil {
				return fmt.Errorf("%w", &corruptIndexError{path: s.path, err: err})
			}
			if bytes.Equal(userKey, excludeKey) || skip[string(userKey)] {
				continue
			}
			var size int64
			if err := item.Value(func(v []byte) error {
				size, err = decodeSize(v)
				return err
			}); err != nil {
				return err
			}
			out = append(out, evictionCandidate{userKey: append([]byte(nil), userKey...), size: size})
			freed += size
		}
		return nil
	})
	return out, freed, err
}

// corruptIndexError wraps a malformed secondary-index row; kept distinct
// from cacheerr.CorruptionError since it is always an internal detail of
// a scan rather than something returned across the Store boundary.
type corruptIndexError struct {
	path string
	err  error
}

func (e *corruptIndexError) Error() string {
	return fmt.Sprintf("corrupt index entry in %s: %v", e.path, e.err)
}

func (e *corruptIndexError) Unwrap() error { return e.err }

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package store implements CacheStore: an LSM-backed persistent key-value
// cache with size bounds, two discard policies, auxiliary metadata, atomic
// read-or-load, statistics, and event notifications (§3.1, §4.3).
//
// A Store is not safe for concurrent use from multiple processes against
// the same directory (badger itself enforces this via its lock file); a
// single Store value serializes all operations behind one exclusive lock,
// matching the "single writer per cache" discipline in §4.3.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/thumbnailer/internal/cacheerr"
	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/stats"
)

// eventsTopic is the watermill gochannel topic every mutation is published
// to for decoupled consumers (metrics, logging) that don't need the
// synchronous set_handler contract.
const eventsTopic = "cache-events"

// Config controls cache creation and the eviction pass.
type Config struct {
	// MaxSizeInBytes is the size bound persisted in the settings region.
	MaxSizeInBytes int64

	// Policy is the discard policy persisted at creation; it cannot change
	// on reopen.
	Policy stats.Policy

	// Headroom is additional bytes freed on each eviction pass beyond the
	// minimum required, amortizing eviction cost. Default 0 (glossary).
	Headroom int64
}

// Store is a single open cache directory.
type Store struct {
	db     *badger.DB
	path   string
	config Config
	stats  *stats.Stats

	mu sync.Mutex // single exclusive writer lock per cache (§4.3)

	handlersMu sync.RWMutex
	handlers   []registeredHandler

	pub *gochannel.GoChannel
}

type registeredHandler struct {
	mask EventMask
	cb   Handler
}

// Open creates a new cache at path, or opens an existing one, verifying
// that cfg.MaxSizeInBytes and cfg.Policy match the persisted settings.
// Fails with ConfigMismatch if they disagree with a previously persisted
// cache, or InvalidArgument if cfg.MaxSizeInBytes <= 0.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.MaxSizeInBytes <= 0 {
		return nil, fmt.Errorf("store: %w: max_size_in_bytes must be positive, got %d", cacheerr.ErrInvalidArgument, cfg.MaxSizeInBytes)
	}
	return open(path, &cfg)
}

// OpenExisting opens a cache using whatever settings were persisted at
// creation time, without requiring the caller to restate them.
func OpenExisting(path string) (*Store, error) {
	return open(path, nil)
}

func open(path string, want *Config) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Compression = options.Snappy
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger db at %s: %w", path, err)
	}

	s := &Store{db: db, path: path}

	persisted, fresh, err := s.loadOrInitSettings(want)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.config = persisted
	s.stats = stats.New(path, persisted.MaxSizeInBytes, persisted.Policy)

	if !fresh {
		if err := s.handleOpenRecovery(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := s.markDirty(); err != nil {
		_ = db.Close()
		return nil, err
	}

	pub := gochannel.NewGoChannel(gochannel.Config{Persistent: false}, watermill.NopLogger{})
	s.pub = pub

	return s, nil
}

// loadOrInitSettings reads the persisted YMAX_SIZE/YPOLICY/YSCHEMA_VERSION
// settings, or writes them for a brand-new cache directory. fresh reports
// whether this call created the settings rather than reading them.
func (s *Store) loadOrInitSettings(want *Config) (cfg Config, fresh bool, err error) {
	var hasSettings bool
	var persistedMax int64
	var persistedPolicy stats.Policy
	var persistedSchema int64

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingsSchemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		hasSettings = true
		if err := item.Value(func(v []byte) error {
			persistedSchema, err = strconv.ParseInt(string(v), 10, 64)
			return err
		}); err != nil {
			return err
		}
		if item, err = txn.Get(settingsMaxSizeKey); err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			persistedMax, err = strconv.ParseInt(string(v), 10, 64)
			return err
		}); err != nil {
			return err
		}
		if item, err = txn.Get(settingsPolicyKey); err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if string(v) == "1" {
				persistedPolicy = stats.PolicyLRUTTL
			} else {
				persistedPolicy = stats.PolicyLRUOnly
			}
			return nil
		})
	})
	if err != nil {
		return Config{}, false, fmt.Errorf("store: read settings: %w", err)
	}

	if !hasSettings {
		if want == nil {
			return Config{}, false, fmt.Errorf("store: %w: no cache exists at %s", cacheerr.ErrInvalidArgument, s.path)
		}
		if err := s.writeSettings(*want, currentSchemaVersion); err != nil {
			return Config{}, false, err
		}
		return *want, true, nil
	}

	persisted := Config{MaxSizeInBytes: persistedMax, Policy: persistedPolicy}
	if want != nil {
		if want.MaxSizeInBytes != persistedMax || want.Policy != persistedPolicy {
			return Config{}, false, fmt.Errorf("store: %w: persisted max_size=%d policy=%s, got max_size=%d policy=%s",
				cacheerr.ErrConfigMismatch, persistedMax, persistedPolicy, want.MaxSizeInBytes, want.Policy)
		}
		persisted.Headroom = want.Headroom
	}

	if persistedSchema != currentSchemaVersion {
		if err := s.wipeUserRows(); err != nil {
			return Config{}, false, err
		}
		if err := s.writeSettings(persisted, currentSchemaVersion); err != nil {
			return Config{}, false, err
		}
		return persisted, true, nil
	}

	return persisted, false, nil
}

func (s *Store) writeSettings(cfg Config, schemaVersion int64) error {
	policyVal := "0"
	if cfg.Policy == stats.PolicyLRUTTL {
		policyVal = "1"
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(settingsMaxSizeKey, []byte(strconv.FormatInt(cfg.MaxSizeInBytes, 10))); err != nil {
			return err
		}
		if err := txn.Set(settingsPolicyKey, []byte(policyVal)); err != nil {
			return err
		}
		return txn.Set(settingsSchemaKey, []byte(strconv.FormatInt(schemaVersion, 10)))
	})
}

// wipeUserRows deletes every A/B/C/D/E/X row, preserving the Y settings
// region, per the schema-mismatch recovery rule in §6.1.
func (s *Store) wipeUserRows() error {
	prefixes := []byte{prefixValues, prefixData, prefixMetadata, prefixATime, prefixETime, prefixStats}
	for _, p := range prefixes {
		if err := s.deletePrefix([]byte{p}); err != nil {
			return fmt.Errorf("store: wipe prefix %q: %w", string(p), err)
		}
	}
	return nil
}

func (s *Store) deletePrefix(prefix []byte) error {
	for {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < 1000; it.Next() {
				k := it.Item().KeyCopy(nil)
				keys = append(keys, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
}

// handleOpenRecovery checks the dirty flag left by a previous unclean
// close. If set, the histogram and size counters are rebuilt from the
// ATime index; otherwise the persisted snapshot is loaded as-is.
func (s *Store) handleOpenRecovery() error {
	var dirty bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dirtyFlagKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		dirty = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: read dirty flag: %w", err)
	}

	if dirty {
		sizes, err := s.scanATimeRecordSizes()
		if err != nil {
			return err
		}
		s.stats.RebuildFromSizes(sizes)
		return nil
	}

	var snapData []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statsValuesKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snapData, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: read stats snapshot: %w", err)
	}
	if snapData != nil {
		if err := s.stats.LoadSnapshot(snapData); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) scanATimeRecordSizes() ([]int64, error) {
	var sizes []int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixATime}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				sz, err := decodeSize(v)
				if err != nil {
					return err
				}
				sizes = append(sizes, sz)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan ATime index: %w", err)
	}
	return sizes, nil
}

func (s *Store) markDirty() error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dirtyFlagKey, []byte("1"))
	})
}

func (s *Store) clearDirty() error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dirtyFlagKey)
	})
}

// Stats returns the live Stats instance backing this cache.
func (s *Store) Stats() *stats.Stats { return s.stats }

// Path returns the cache directory this Store was opened against.
func (s *Store) Path() string { return s.path }

// Compact requests underlying store compaction. Observationally a no-op
// with respect to cache contents (§8 round-trip laws).
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Flatten(2); err != nil {
		return fmt.Errorf("store: %w", &cacheerr.StoreError{Op: "compact", Err: err})
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("store: %w", &cacheerr.StoreError{Op: "compact", Err: err})
	}
	return nil
}

// Close writes the stats snapshot, clears the dirty flag, compacts, and
// closes the underlying database, matching the documented destructor
// order (§9: "stats write, dirty flag clear, handle close").
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.stats.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal stats on close: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statsValuesKey, data)
	}); err != nil {
		return fmt.Errorf("store: persist stats on close: %w", err)
	}
	if err := s.clearDirty(); err != nil {
		return fmt.Errorf("store: clear dirty flag on close: %w", err)
	}
	if err := s.db.Flatten(2); err != nil {
		logging.WithCache(s.path).Warn().Err(err).Msg("compaction on close failed")
	}
	if s.pub != nil {
		_ = s.pub.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close badger db: %w", err)
	}
	return nil
}

func now() int64 {
	return time.Now().UnixMilli()
}

// Events returns the watermill subscriber feed for asynchronous, decoupled
// consumers (metrics/logging); it delivers the same events as the
// synchronous handlers installed via SetHandler, best-effort.
func (s *Store) Events() (<-chan *message.Message, error) {
	return s.pub.Subscribe(context.Background(), eventsTopic)
}

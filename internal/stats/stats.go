// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package stats implements the in-memory counters, size histogram, and
// persisted snapshot described for each CacheStore instance.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// NumHistogramBins is the number of buckets in the size histogram: one
// bucket for sizes 1-9, nine buckets per decade (one per leading digit) for
// decades 10-99 through 10^8-(10^9-1), and one open-ended bucket for sizes
// at or above 10^9.
const NumHistogramBins = 74

// Policy mirrors the two discard policies a cache can be opened with. It is
// immutable for the lifetime of a cache.
type Policy int

const (
	PolicyLRUOnly Policy = iota
	PolicyLRUTTL
)

func (p Policy) String() string {
	if p == PolicyLRUTTL {
		return "lru_ttl"
	}
	return "lru_only"
}

// BucketIndex maps a record size in bytes to its histogram bin. size must
// be >= 1 (record-size is len(key)+len(value)+len(metadata), and keys are
// never empty, so this invariant always holds — see §9 open question (i)).
func BucketIndex(size int64) int {
	if size < 1 {
		panic(fmt.Sprintf("stats: non-positive record size %d", size))
	}
	if size < 10 {
		return 0
	}
	if size >= 1_000_000_000 {
		return NumHistogramBins - 1
	}
	decade := 0
	for v := size; v >= 10; v /= 10 {
		decade++
	}
	digit := size
	for i := 0; i < decade; i++ {
		digit /= 10
	}
	return 1 + (decade-1)*9 + int(digit-1)
}

// Snapshot is the deterministic, persisted form of Stats written under the
// XVALUES key on clean close and read back on open.
type Snapshot struct {
	Size                int64        `json:"size"`
	SizeInBytes         int64        `json:"size_in_bytes"`
	Hits                int64        `json:"hits"`
	Misses              int64        `json:"misses"`
	TTLEvictions        int64        `json:"ttl_evictions"`
	LRUEvictions        int64        `json:"lru_evictions"`
	HitsSinceLastMiss   int64        `json:"hits_since_last_miss"`
	MissesSinceLastHit  int64        `json:"misses_since_last_hit"`
	LongestHitRun       int64        `json:"longest_hit_run"`
	LongestMissRun      int64        `json:"longest_miss_run"`
	MostRecentHit       time.Time    `json:"most_recent_hit"`
	MostRecentMiss      time.Time    `json:"most_recent_miss"`
	LongestHitRunAt     time.Time    `json:"longest_hit_run_at"`
	LongestMissRunAt    time.Time    `json:"longest_miss_run_at"`
	Histogram           [NumHistogramBins]int64 `json:"histogram"`
}

// Stats holds every counter in §3.2, guarded by its own mutex so the
// CacheStore can update it without holding its own exclusive lock any
// longer than the underlying store transaction requires.
type Stats struct {
	mu sync.Mutex

	// Immutable after open.
	maxSizeInBytes int64
	policy         Policy
	cachePath      string

	size        int64
	sizeInBytes int64

	snap Snapshot
}

// New creates a Stats instance for a cache opened at cachePath with the
// given bound and policy.
func New(cachePath string, maxSizeInBytes int64, policy Policy) *Stats {
	return &Stats{
		maxSizeInBytes: maxSizeInBytes,
		policy:         policy,
		cachePath:      cachePath,
	}
}

// CachePath returns the immutable cache directory this Stats was created for.
func (s *Stats) CachePath() string { return s.cachePath }

// Policy returns the immutable discard policy.
func (s *Stats) Policy() Policy { return s.policy }

// MaxSizeInBytes returns the current size bound (mutable only via resize).
func (s *Stats) MaxSizeInBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSizeInBytes
}

// SetMaxSizeInBytes updates the bound; called by CacheStore.resize after
// persisting the new settings row.
func (s *Stats) SetMaxSizeInBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSizeInBytes = n
}

// Size returns the current entry count.
func (s *Stats) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// SizeInBytes returns the current aggregate record-size.
func (s *Stats) SizeInBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeInBytes
}

// Increment registers a newly inserted entry of the given record size,
// updating size, size_in_bytes, and the histogram together.
func (s *Stats) Increment(recordSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size++
	s.sizeInBytes += recordSize
	s.snap.Histogram[BucketIndex(recordSize)]++
}

// Decrement registers a removed or replaced entry of the given record size.
func (s *Stats) Decrement(recordSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size--
	s.sizeInBytes -= recordSize
	s.snap.Histogram[BucketIndex(recordSize)]--
}

// RecordHit records a successful lookup at time t: updates the hit
// counter, the current hit-run, resets the miss-run, and most-recent-hit.
func (s *Stats) RecordHit(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Hits++
	s.snap.HitsSinceLastMiss++
	s.snap.MissesSinceLastHit = 0
	s.snap.MostRecentHit = t
	if s.snap.HitsSinceLastMiss > s.snap.LongestHitRun {
		s.snap.LongestHitRun = s.snap.HitsSinceLastMiss
		s.snap.LongestHitRunAt = t
	}
}

// RecordMiss records a failed lookup at time t, symmetric to RecordHit.
func (s *Stats) RecordMiss(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Misses++
	s.snap.MissesSinceLastHit++
	s.snap.HitsSinceLastMiss = 0
	s.snap.MostRecentMiss = t
	if s.snap.MissesSinceLastHit > s.snap.LongestMissRun {
		s.snap.LongestMissRun = s.snap.MissesSinceLastHit
		s.snap.LongestMissRunAt = t
	}
}

// RecordTTLEviction increments the TTL-eviction counter.
func (s *Stats) RecordTTLEviction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TTLEvictions++
}

// RecordLRUEviction increments the LRU-eviction counter.
func (s *Stats) RecordLRUEviction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LRUEvictions++
}

// Clear resets every counter except the immutable cache-identity fields;
// it does not touch size/size_in_bytes or the histogram, which reflect
// live cache state.
func (s *Stats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.snap.Histogram
	s.snap = Snapshot{Histogram: hist}
}

// Snapshot returns an immutable point-in-time copy suitable for delivery to
// event handlers or serialization; the caller cannot observe further
// mutation through the returned value.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Size = s.size
	snap.SizeInBytes = s.sizeInBytes
	return snap
}

// Marshal serializes the persisted snapshot for storage under the XVALUES key.
func (s *Stats) Marshal() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// LoadSnapshot restores counters from a previously persisted snapshot (clean
// open path). size/size_in_bytes are taken from the snapshot as well; a
// dirty open instead calls RebuildFromSizes.
func (s *Stats) LoadSnapshot(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("stats: unmarshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.size = snap.Size
	s.sizeInBytes = snap.SizeInBytes
	return nil
}

// RebuildFromSizes deterministically rebuilds size, size_in_bytes, and the
// histogram from a scan of the ATime index (dirty-open recovery path per
// §3.2). All other counters are reset to zero, matching the source's
// behavior of only recovering what is re-derivable from the index.
func (s *Stats) RebuildFromSizes(recordSizes []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.size = int64(len(recordSizes))
	var total int64
	for _, sz := range recordSizes {
		total += sz
		s.snap.Histogram[BucketIndex(sz)]++
	}
	s.sizeInBytes = total
}

// Format renders a human-readable report in the same shape as the original
// thumbnailer-admin "stats" command.
func (s *Stats) Format() string {
	snap := s.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "    Path:                  %s\n", s.cachePath)
	fmt.Fprintf(&b, "    Policy:                %s\n", s.policy)
	fmt.Fprintf(&b, "    Size:                  %d\n", snap.Size)
	fmt.Fprintf(&b, "    Size in bytes:         %d\n", snap.SizeInBytes)
	fmt.Fprintf(&b, "    Max size in bytes:     %d\n", s.MaxSizeInBytes())
	fmt.Fprintf(&b, "    Hits:                  %d\n", snap.Hits)
	fmt.Fprintf(&b, "    Misses:                %d\n", snap.Misses)
	fmt.Fprintf(&b, "    Hits since last miss:  %d\n", snap.HitsSinceLastMiss)
	fmt.Fprintf(&b, "    Misses since last hit: %d\n", snap.MissesSinceLastHit)
	fmt.Fprintf(&b, "    Longest hit run:       %d\n", snap.LongestHitRun)
	fmt.Fprintf(&b, "    Longest miss run:      %d\n", snap.LongestMissRun)
	fmt.Fprintf(&b, "    TTL evictions:         %d\n", snap.TTLEvictions)
	fmt.Fprintf(&b, "    LRU evictions:         %d\n", snap.LRUEvictions)
	return b.String()
}

// FormatHistogram renders the non-empty histogram buckets, one per line.
func (s *Stats) FormatHistogram() string {
	snap := s.Snapshot()
	var b strings.Builder
	b.WriteString("    Histogram:\n")
	for i, count := range snap.Histogram {
		if count == 0 {
			continue
		}
		fmt.Fprintf(&b, "      bin %2d: %d\n", i, count)
	}
	return b.String()
}

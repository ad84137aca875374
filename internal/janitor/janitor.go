// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package janitor implements the two suture.Service members of the
// janitor supervision layer (see internal/supervisor's doc comment):
// idle-triggered compaction and periodic TTL sweeps.
package janitor

import (
	"context"
	"time"

	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/metrics"
	"github.com/tomtom215/thumbnailer/internal/store"
)

// CompactionService calls Compact on a single cache once it has seen no
// hit or miss for at least IdleAfter, mirroring the original daemon's
// inactivity handler (§9). It re-arms only after the next activity, so a
// cache sitting idle for hours is compacted once, not every tick.
type CompactionService struct {
	Name      string
	Store     *store.Store
	IdleAfter time.Duration
	// PollInterval controls how often idleness is checked; defaults to
	// IdleAfter/4, floored at one second.
	PollInterval time.Duration
}

func (c *CompactionService) interval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	d := c.IdleAfter / 4
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Serve implements suture.Service. It returns nil only when ctx is
// cancelled; any other exit is a bug the supervisor should restart from.
func (c *CompactionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	var compactedSinceActivity bool
	var lastActivity time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := c.Store.Stats().Snapshot()
			activity := snap.MostRecentHit
			if snap.MostRecentMiss.After(activity) {
				activity = snap.MostRecentMiss
			}
			if activity.After(lastActivity) {
				lastActivity = activity
				compactedSinceActivity = false
			}
			if compactedSinceActivity || time.Since(lastActivity) < c.IdleAfter {
				continue
			}
			if err := c.Store.Compact(); err != nil {
				logging.Warn().Str("cache", c.Name).Err(err).Msg("idle compaction failed")
				continue
			}
			compactedSinceActivity = true
			logging.Info().Str("cache", c.Name).Msg("idle compaction complete")
		}
	}
}

// TTLSweepService periodically reclaims expired entries from a single
// lru_ttl cache, independent of size pressure (§9: the failure cache
// should not wait for a Put to notice an expired negative entry).
type TTLSweepService struct {
	Name     string
	Store    *store.Store
	Interval time.Duration
}

// Serve implements suture.Service.
func (t *TTLSweepService) Serve(ctx context.Context) error {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := t.Store.SweepExpired()
			if err != nil {
				logging.Warn().Str("cache", t.Name).Err(err).Msg("ttl sweep failed")
				continue
			}
			if n > 0 {
				snap := t.Store.Stats().Snapshot()
				metrics.UpdateCacheGauges(t.Name, snap.Size, snap.SizeInBytes)
				metrics.RecordEviction(t.Name, "ttl", n)
				logging.Debug().Str("cache", t.Name).Int("count", n).Msg("ttl sweep reclaimed entries")
			}
		}
	}
}

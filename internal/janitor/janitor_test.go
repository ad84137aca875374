// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/thumbnailer/internal/stats"
	"github.com/tomtom215/thumbnailer/internal/store"
)

func openTestStore(t *testing.T, policy stats.Policy) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.Config{MaxSizeInBytes: 1 << 20, Policy: policy})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCompactionServiceStopsOnCancel(t *testing.T) {
	s := openTestStore(t, stats.PolicyLRUOnly)
	svc := &CompactionService{Name: "test", Store: s, IdleAfter: time.Hour, PollInterval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestTTLSweepServiceReclaimsExpired(t *testing.T) {
	s := openTestStore(t, stats.PolicyLRUTTL)
	if err := s.Put([]byte("k1"), []byte("v1"), store.PutOptions{ExpiryMs: time.Now().Add(20 * time.Millisecond).UnixMilli()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	svc := &TTLSweepService{Name: "test", Store: s, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if size := s.Stats().Snapshot().Size; size != 0 {
		t.Errorf("Stats().Size = %d, want 0 (sweep should have physically removed the expired entry)", size)
	}
}

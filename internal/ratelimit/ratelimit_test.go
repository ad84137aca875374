// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewLimiterRejectsNonPositive(t *testing.T) {
	if _, err := NewLimiter(0); err == nil {
		t.Error("expected error for limit 0")
	}
	if _, err := NewLimiter(-1); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestLocalLimiterClampedRange(t *testing.T) {
	l, err := NewLocalLimiter()
	if err != nil {
		t.Fatalf("NewLocalLimiter: %v", err)
	}
	if l.Limit() < 1 || l.Limit() > 8 {
		t.Errorf("Limit() = %d, want within [1, 8]", l.Limit())
	}
}

func TestRemoteLimiterDefault(t *testing.T) {
	l, err := NewRemoteLimiter()
	if err != nil {
		t.Fatalf("NewRemoteLimiter: %v", err)
	}
	if l.Limit() != DefaultRemoteConcurrency {
		t.Errorf("Limit() = %d, want %d", l.Limit(), DefaultRemoteConcurrency)
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l, err := NewLimiter(2)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}

	var current, max atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := max.Load()
					if n <= old || max.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if max.Load() > 2 {
		t.Errorf("observed concurrency %d, want <= 2", max.Load())
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	l, err := NewLimiter(1)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("expected Acquire to fail once the limiter is full and the context times out")
	}
}

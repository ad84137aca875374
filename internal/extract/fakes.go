// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"context"
	"sync/atomic"

	"github.com/tomtom215/thumbnailer/internal/reqkey"
)

// FakeLocalExtractor is a scriptable LocalExtractor for RequestPipeline
// tests that need deterministic extraction outcomes without a real
// subprocess helper.
type FakeLocalExtractor struct {
	calls atomic.Int32
	// Fn, if set, is invoked for every call; otherwise Data/Err are used.
	Fn   func(ctx context.Context, path string, size reqkey.Size) ([]byte, error)
	Data []byte
	Err  error
}

func (f *FakeLocalExtractor) Extract(ctx context.Context, path string, size reqkey.Size) ([]byte, error) {
	f.calls.Add(1)
	if f.Fn != nil {
		return f.Fn(ctx, path, size)
	}
	return f.Data, f.Err
}

// Calls reports how many times Extract has been invoked.
func (f *FakeLocalExtractor) Calls() int32 { return f.calls.Load() }

// FakeRemoteDownloader is the RemoteDownloader counterpart of
// FakeLocalExtractor.
type FakeRemoteDownloader struct {
	calls atomic.Int32
	Fn    func(ctx context.Context, url string) ([]byte, error)
	Data  []byte
	Err   error
}

func (f *FakeRemoteDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.Fn != nil {
		return f.Fn(ctx, url)
	}
	return f.Data, f.Err
}

// Calls reports how many times Download has been invoked.
func (f *FakeRemoteDownloader) Calls() int32 { return f.calls.Load() }

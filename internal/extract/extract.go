// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package extract produces the image bytes a RequestPipeline feeds into
// the thumbnail cache: local-file rendition extraction via a subprocess,
// and remote album/artist art retrieval over HTTP (§4.4).
package extract

import (
	"context"

	"github.com/tomtom215/thumbnailer/internal/reqkey"
)

// LocalExtractor renders a thumbnail-sized (or full-size, for Unbounded)
// image from a local media file. Implementations own the subprocess or
// in-process decoder contract described in §6.3.
type LocalExtractor interface {
	Extract(ctx context.Context, path string, size reqkey.Size) ([]byte, error)
}

// RemoteDownloader retrieves album or artist art from a remote source.
type RemoteDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

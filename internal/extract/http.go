// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
)

// HTTPDownloader retrieves remote album/artist art over HTTP, classifying
// failures into the pipeline's not-found/retriable/hard/timeout taxonomy (§4.4,
// §7).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader returns a RemoteDownloader using client, or a default
// client with a conservative timeout if client is nil.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDownloader{client: client}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("extract: %w: build request for %s: %v", pipelineerr.ErrHard, url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("extract: %w: %s: %v", pipelineerr.ErrTimeout, url, err)
		}
		return nil, fmt.Errorf("extract: %w: fetch %s: %v", pipelineerr.ErrTemporary, url, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extract: %w: read body for %s: %v", pipelineerr.ErrTemporary, url, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("extract: %w: empty body for %s", pipelineerr.ErrHard, url)
	}
	return body, nil
}

// classifyStatus maps an HTTP status code to the pipeline error taxonomy:
// 404 is a definitive not-found, 429 and 5xx are worth retrying, other
// 4xx are not, and 2xx passes.
func classifyStatus(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("extract: %w: no art at %s", pipelineerr.ErrNotFound, url)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("extract: %w: rate limited fetching %s", pipelineerr.ErrTemporary, url)
	case code >= 500:
		return fmt.Errorf("extract: %w: server error %d fetching %s", pipelineerr.ErrTemporary, code, url)
	case code >= 400:
		return fmt.Errorf("extract: %w: client error %d fetching %s", pipelineerr.ErrHard, code, url)
	default:
		return fmt.Errorf("extract: %w: unexpected status %d fetching %s", pipelineerr.ErrHard, code, url)
	}
}

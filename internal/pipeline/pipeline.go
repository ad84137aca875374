// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package pipeline implements RequestPipeline: the orchestration layer
// between a thumbnail request and the three caches (image, thumbnail,
// failure) backing it, with in-flight deduplication, rate limiting,
// retry, and circuit breaking around the extractors (§4.5).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/thumbnailer/internal/cacheerr"
	"github.com/tomtom215/thumbnailer/internal/extract"
	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/metrics"
	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
	"github.com/tomtom215/thumbnailer/internal/ratelimit"
	"github.com/tomtom215/thumbnailer/internal/reqkey"
	"github.com/tomtom215/thumbnailer/internal/store"
)

// Stores groups the three caches a RequestPipeline coordinates (§3.3:
// image cache, thumbnail cache, failure cache).
type Stores struct {
	Image     *store.Store
	Thumbnail *store.Store
	Failure   *store.Store
}

// Config controls pipeline behavior beyond the three stores.
type Config struct {
	LocalExtractor   extract.LocalExtractor
	RemoteDownloader extract.RemoteDownloader

	// LocalLimiter and RemoteLimiter bound concurrent extraction work per
	// source kind. If nil, sensible defaults are constructed (§4.6).
	LocalLimiter  *ratelimit.Limiter
	RemoteLimiter *ratelimit.Limiter

	// RequestTimeout bounds the whole thumbnail(...) call, including
	// retries. Zero means no timeout beyond the caller's context.
	RequestTimeout time.Duration

	// FailureExpiryMs is the TTL applied to entries written to the
	// failure cache, preventing a permanently poisoned negative cache
	// entry for content that may later become available (§4.5).
	FailureExpiryMs int64
}

// RequestPipeline answers thumbnail requests, coordinating the cache
// layer with extraction.
type RequestPipeline struct {
	stores Stores
	cfg    Config

	localBreaker  *breaker
	remoteBreaker *breaker

	group singleflight.Group

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

// inflightCall tracks the waiter set for one in-flight extraction (§4.5,
// §5). The shared extraction runs against its own ctx, independent of any
// single waiter's request context, so that one waiter's cancellation never
// aborts the work for the others. Only when the last waiter leaves is ctx
// cancelled, aborting the extractor.
type inflightCall struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiters int
}

// join registers the caller as a waiter on the in-flight call for key,
// creating one with its own independent work context if none exists yet.
func (p *RequestPipeline) join(key string) *inflightCall {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	call, ok := p.inflight[key]
	if !ok {
		workCtx, cancel := context.WithCancel(context.Background())
		call = &inflightCall{ctx: workCtx, cancel: cancel}
		p.inflight[key] = call
	}
	call.mu.Lock()
	call.waiters++
	call.mu.Unlock()
	return call
}

// leave removes the caller from call's waiter set, following it off the
// departing caller's own cancelled ctx (§4.5 "Cancellation"). If it was the
// last waiter, the shared extraction's work context is cancelled, aborting
// the extractor; remaining waiters, if any, keep it alive.
func (call *inflightCall) leave() {
	call.mu.Lock()
	call.waiters--
	last := call.waiters == 0
	call.mu.Unlock()
	if last {
		call.cancel()
	}
}

// done removes key's entry from the in-flight table once its shared
// extraction has returned, and releases the work context regardless of
// whether it ran to completion or was cancelled out from under it.
func (p *RequestPipeline) done(key string, call *inflightCall) {
	p.inflightMu.Lock()
	delete(p.inflight, key)
	p.inflightMu.Unlock()
	call.cancel()
}

// New constructs a RequestPipeline over the given stores and
// configuration, filling in default rate limiters if cfg leaves them nil.
func New(stores Stores, cfg Config) (*RequestPipeline, error) {
	if stores.Image == nil || stores.Thumbnail == nil || stores.Failure == nil {
		return nil, fmt.Errorf("pipeline: %w: image, thumbnail, and failure stores are all required", cacheerr.ErrInvalidArgument)
	}
	if cfg.LocalLimiter == nil {
		l, err := ratelimit.NewLocalLimiter()
		if err != nil {
			return nil, err
		}
		cfg.LocalLimiter = l
	}
	if cfg.RemoteLimiter == nil {
		l, err := ratelimit.NewRemoteLimiter()
		if err != nil {
			return nil, err
		}
		cfg.RemoteLimiter = l
	}
	return &RequestPipeline{
		stores:        stores,
		cfg:           cfg,
		localBreaker:  newBreaker("local-extract"),
		remoteBreaker: newBreaker("remote-download"),
		inflight:      make(map[string]*inflightCall),
	}, nil
}

// Thumbnail resolves req to its thumbnail bytes, following the 9-step
// algorithm in §4.5: thumbnail-cache check, failure-cache check, in-flight
// dedup, rate-limited content resolution (cache or extraction, with retry
// and circuit breaking), thumbnail derivation, and caching of both the
// success and any cacheable failure.
func (p *RequestPipeline) Thumbnail(ctx context.Context, req reqkey.Request) ([]byte, error) {
	requestKey, err := req.RequestKey()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w: %v", cacheerr.ErrInvalidArgument, err)
	}

	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	correlationID := uuid.NewString()
	log := logging.WithRequest(correlationID, req.Domain.String())

	if data, err := p.stores.Thumbnail.GetData(requestKey); err == nil {
		metrics.RecordCacheHit("thumbnail")
		log.Debug().Msg("thumbnail cache hit")
		metrics.PipelineRequests.WithLabelValues("ok").Inc()
		return data, nil
	} else if errors.Is(err, cacheerr.ErrNotFound) {
		metrics.RecordCacheMiss("thumbnail")
	} else {
		return nil, fmt.Errorf("pipeline: read thumbnail cache: %w", err)
	}

	if cached, err := p.stores.Failure.GetData(requestKey); err == nil {
		metrics.RecordCacheHit("failure")
		log.Debug().Msg("failure cache hit")
		decoded := decodeFailure(cached)
		metrics.PipelineRequests.WithLabelValues(failureOutcome(decoded)).Inc()
		return nil, decoded
	} else if errors.Is(err, cacheerr.ErrNotFound) {
		metrics.RecordCacheMiss("failure")
	} else {
		return nil, fmt.Errorf("pipeline: read failure cache: %w", err)
	}

	result, err := p.dedupe(ctx, string(requestKey), req, requestKey, log)
	if err != nil {
		metrics.PipelineRequests.WithLabelValues(failureOutcome(err)).Inc()
		return nil, err
	}
	metrics.PipelineRequests.WithLabelValues("ok").Inc()
	return result, nil
}

// dedupe joins (or starts) the in-flight extraction for key, sharing a
// single p.resolve call across every concurrent waiter for the same
// content (§4.5, §5). Unlike a bare singleflight.Group.Do, each waiter
// selects on its own ctx: a waiter that cancels is removed from the
// waiter set without affecting the others, and only the departure of the
// last waiter cancels the shared extraction.
func (p *RequestPipeline) dedupe(ctx context.Context, key string, req reqkey.Request, requestKey []byte, log zerolog.Logger) ([]byte, error) {
	call := p.join(key)

	resultCh := p.group.DoChan(key, func() (interface{}, error) {
		defer p.done(key, call)
		return p.resolve(call.ctx, req, requestKey, log)
	})

	select {
	case res := <-resultCh:
		if res.Shared {
			metrics.InFlightDeduped.Inc()
			log.Debug().Msg("joined an in-flight request for the same key")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		call.leave()
		return nil, fmt.Errorf("pipeline: %w: %v", pipelineerr.ErrCancelled, ctx.Err())
	}
}

// failureOutcome maps a pipeline error to the outcome label ExtractorDuration
// and PipelineRequests use.
func failureOutcome(err error) string {
	switch {
	case errors.Is(err, pipelineerr.ErrNotFound):
		return "not_found"
	case errors.Is(err, pipelineerr.ErrTimeout):
		return "timeout"
	case errors.Is(err, pipelineerr.ErrTemporary):
		return "temporary"
	case errors.Is(err, pipelineerr.ErrCancelled):
		return "cancelled"
	default:
		return "hard"
	}
}

// resolve performs the actual cache-miss path: obtain content bytes
// (from the image cache or by extracting/downloading), derive the
// thumbnail, and persist outcomes.
func (p *RequestPipeline) resolve(ctx context.Context, req reqkey.Request, requestKey []byte, log zerolog.Logger) ([]byte, error) {
	content, err := p.resolveContent(ctx, req, log)
	if err != nil {
		p.recordFailure(requestKey, err, log)
		return nil, err
	}

	thumb, err := p.deriveThumbnail(content, req)
	if err != nil {
		p.recordFailure(requestKey, err, log)
		return nil, err
	}

	if err := p.stores.Thumbnail.Put(requestKey, thumb, store.PutOptions{}); err != nil {
		return nil, fmt.Errorf("pipeline: cache thumbnail: %w", err)
	}
	return thumb, nil
}

// resolveContent returns the full-size representation for req, from the
// image cache if present, otherwise via the appropriate extractor with
// rate limiting, retry, and circuit breaking.
func (p *RequestPipeline) resolveContent(ctx context.Context, req reqkey.Request, log zerolog.Logger) ([]byte, error) {
	contentKey, err := req.ContentKey()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w: %v", cacheerr.ErrInvalidArgument, err)
	}

	if data, err := p.stores.Image.GetData(contentKey); err == nil {
		return data, nil
	} else if !errors.Is(err, cacheerr.ErrNotFound) {
		return nil, fmt.Errorf("pipeline: read image cache: %w", err)
	}

	data, err := p.extractContent(ctx, req, log)
	if err != nil {
		return nil, err
	}

	if err := p.stores.Image.Put(contentKey, data, store.PutOptions{}); err != nil {
		log.Warn().Err(err).Msg("failed to cache extracted content; returning it anyway")
	}
	return data, nil
}

func (p *RequestPipeline) extractContent(ctx context.Context, req reqkey.Request, log zerolog.Logger) ([]byte, error) {
	switch req.Domain {
	case reqkey.DomainLocalFile:
		if p.cfg.LocalExtractor == nil {
			return nil, fmt.Errorf("pipeline: %w: no local extractor configured", pipelineerr.ErrHard)
		}
		start := time.Now()
		var out []byte
		runErr := p.cfg.LocalLimiter.Run(ctx, func(ctx context.Context) error {
			return p.localBreaker.run(ctx, func() error {
				return retry(ctx, func() error {
					data, err := p.cfg.LocalExtractor.Extract(ctx, req.Local.CanonicalPath, req.Size)
					if err != nil {
						return err
					}
					out = data
					return nil
				})
			})
		})
		if runErr != nil {
			classified := classifyPipelineFailure(runErr, log)
			metrics.RecordExtractor("local", failureOutcome(classified), time.Since(start))
			return nil, classified
		}
		metrics.RecordExtractor("local", "ok", time.Since(start))
		return out, nil

	case reqkey.DomainRemoteAlbum, reqkey.DomainRemoteArtist:
		if p.cfg.RemoteDownloader == nil {
			return nil, fmt.Errorf("pipeline: %w: no remote downloader configured", pipelineerr.ErrHard)
		}
		url := remoteArtURL(req)
		kind := "remote-album"
		if req.Domain == reqkey.DomainRemoteArtist {
			kind = "remote-artist"
		}
		start := time.Now()
		var out []byte
		runErr := p.cfg.RemoteLimiter.Run(ctx, func(ctx context.Context) error {
			return p.remoteBreaker.run(ctx, func() error {
				return retry(ctx, func() error {
					data, err := p.cfg.RemoteDownloader.Download(ctx, url)
					if err != nil {
						return err
					}
					out = data
					return nil
				})
			})
		})
		if runErr != nil {
			classified := classifyPipelineFailure(runErr, log)
			metrics.RecordExtractor(kind, failureOutcome(classified), time.Since(start))
			return nil, classified
		}
		metrics.RecordExtractor(kind, "ok", time.Since(start))
		return out, nil

	default:
		return nil, fmt.Errorf("pipeline: %w: unknown request domain %s", pipelineerr.ErrHard, req.Domain)
	}
}

// deriveThumbnail derives the final cached bytes from resolved content.
// Local extractions are already sized by the subprocess contract (§6.3);
// remote art has no further resize step in scope, so the content bytes
// are the thumbnail bytes.
func (p *RequestPipeline) deriveThumbnail(content []byte, req reqkey.Request) ([]byte, error) {
	if req.Domain != reqkey.DomainLocalFile || req.Size == reqkey.Unbounded {
		return content, nil
	}
	return content, nil
}

func (p *RequestPipeline) recordFailure(requestKey []byte, cause error, log zerolog.Logger) {
	if errors.Is(cause, pipelineerr.ErrCancelled) || !pipelineerr.IsFailureCacheable(cause) {
		return
	}
	encoded := encodeFailure(cause)
	opts := store.PutOptions{}
	if p.cfg.FailureExpiryMs != 0 {
		opts.ExpiryMs = time.Now().UnixMilli() + p.cfg.FailureExpiryMs
	}
	if err := p.stores.Failure.Put(requestKey, encoded, opts); err != nil {
		log.Warn().Err(err).Msg("failed to record failure cache entry")
	}
}

// remoteArtURL is a placeholder URL-construction scheme for remote
// album/artist art; a concrete deployment supplies its own media-server
// base URL and maps artist/album identifiers to that server's art
// endpoint convention.
func remoteArtURL(req reqkey.Request) string {
	if req.Domain == reqkey.DomainRemoteArtist {
		return fmt.Sprintf("artist://%s", req.Remote.Artist)
	}
	return fmt.Sprintf("album://%s/%s", req.Remote.Artist, req.Remote.Album)
}

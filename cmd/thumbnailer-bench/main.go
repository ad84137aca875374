// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Command thumbnailer-bench is a small standalone harness for the
// thumbnailer core: it opens the three caches, wires a RequestPipeline
// and its supervised janitor/extract services exactly as a long-running
// host would, and either serves the admin HTTP surface or resolves a
// single local-file request from the command line and exits.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: config.Load() (Koanf v2: env, file, defaults)
//  2. Caches: store.Open() for the image, thumbnail, and failure caches
//  3. Pipeline: pipeline.New() wired to a subprocess extractor and an
//     HTTP downloader
//  4. Supervisor tree: janitor (idle compaction, TTL sweep) and extract
//     (subprocess reaper) layers
//  5. Admin HTTP: health, stats, and Prometheus endpoints (optional)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the root context is
// canceled, the supervisor tree drains its services within its
// configured shutdown timeout, and any service that misses the deadline
// is reported before exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/thumbnailer/internal/adminhttp"
	"github.com/tomtom215/thumbnailer/internal/config"
	"github.com/tomtom215/thumbnailer/internal/extract"
	"github.com/tomtom215/thumbnailer/internal/janitor"
	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/pipeline"
	"github.com/tomtom215/thumbnailer/internal/reqkey"
	"github.com/tomtom215/thumbnailer/internal/stats"
	"github.com/tomtom215/thumbnailer/internal/store"
	"github.com/tomtom215/thumbnailer/internal/supervisor"
)

func main() {
	extractBinary := flag.String("extract-binary", "", "path to the local extraction helper; if empty, a no-op fake extractor is used")
	adminAddr := flag.String("admin-addr", "", "address to serve the admin HTTP surface on, e.g. :9090; empty disables it")
	requestPath := flag.String("file", "", "if set, resolve a single local-file thumbnail request for this path and exit")
	width := flag.Int("width", 200, "target thumbnail width for -file")
	height := flag.Int("height", 200, "target thumbnail height for -file")
	statsCache := flag.String("stats", "", "print a human-readable stats report for one of image/thumbnail/failure and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "thumbnailer-bench: load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	stores, err := openStores(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("open caches")
	}
	defer closeStores(stores)

	if *statsCache != "" {
		s, ok := map[string]*store.Store{"image": stores.image, "thumbnail": stores.thumbnail, "failure": stores.failure}[*statsCache]
		if !ok {
			fmt.Fprintf(os.Stderr, "thumbnailer-bench: unknown cache %q\n", *statsCache)
			os.Exit(1)
		}
		fmt.Print(s.Stats().Format())
		fmt.Print(s.Stats().FormatHistogram())
		return
	}

	registry := extract.NewProcessRegistry()
	var localExtractor extract.LocalExtractor
	if *extractBinary != "" {
		localExtractor = extract.NewSubprocessExtractor(*extractBinary).WithRegistry(registry)
	} else {
		localExtractor = &extract.FakeLocalExtractor{}
	}

	pl, err := pipeline.New(pipeline.Stores{
		Image:     stores.image,
		Thumbnail: stores.thumbnail,
		Failure:   stores.failure,
	}, pipeline.Config{
		LocalExtractor:   localExtractor,
		RemoteDownloader: extract.NewHTTPDownloader(&http.Client{Timeout: cfg.Pipeline.ExtractTimeout}),
		RequestTimeout:   cfg.Pipeline.ExtractTimeout,
		FailureExpiryMs:  cfg.Pipeline.NotFoundTTL.Milliseconds(),
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("construct pipeline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLoggerWithLevel(cfg.Logging.Level), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("construct supervisor tree")
	}
	registerJanitorServices(tree, stores, cfg)
	tree.AddExtractService(&extract.SubprocessReaperService{Registry: registry})

	var adminServer *http.Server
	if *adminAddr != "" {
		router := adminhttp.NewRouter(adminhttp.Config{
			Stores: map[string]*store.Store{
				"image":     stores.image,
				"thumbnail": stores.thumbnail,
				"failure":   stores.failure,
			},
			ReadyCheck: func() error { return nil },
		})
		adminServer = &http.Server{Addr: *adminAddr, Handler: router}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error().Err(err).Msg("admin http server error")
			}
		}()
		logging.Info().Str("addr", *adminAddr).Msg("admin http server listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	if *requestPath != "" {
		if err := runOneRequest(ctx, pl, *requestPath, int32(*width), int32(*height)); err != nil {
			logging.Error().Err(err).Msg("request failed")
		}
		cancel()
	}

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if adminServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("thumbnailer-bench stopped")
}

type caches struct {
	image     *store.Store
	thumbnail *store.Store
	failure   *store.Store
}

func openStores(cfg *config.Config) (caches, error) {
	image, err := store.Open(cfg.ImageCache.Path, store.Config{
		MaxSizeInBytes: cfg.ImageCache.MaxSizeBytes,
		Policy:         stats.Policy(cfg.ImageCache.Policy),
		Headroom:       cfg.ImageCache.HeadroomBytes,
	})
	if err != nil {
		return caches{}, fmt.Errorf("open image cache: %w", err)
	}

	thumbnail, err := store.Open(cfg.ThumbnailCache.Path, store.Config{
		MaxSizeInBytes: cfg.ThumbnailCache.MaxSizeBytes,
		Policy:         stats.Policy(cfg.ThumbnailCache.Policy),
		Headroom:       cfg.ThumbnailCache.HeadroomBytes,
	})
	if err != nil {
		_ = image.Close()
		return caches{}, fmt.Errorf("open thumbnail cache: %w", err)
	}

	failure, err := store.Open(cfg.FailureCache.Path, store.Config{
		MaxSizeInBytes: cfg.FailureCache.MaxSizeBytes,
		Policy:         stats.Policy(cfg.FailureCache.Policy),
		Headroom:       cfg.FailureCache.HeadroomBytes,
	})
	if err != nil {
		_ = image.Close()
		_ = thumbnail.Close()
		return caches{}, fmt.Errorf("open failure cache: %w", err)
	}

	return caches{image: image, thumbnail: thumbnail, failure: failure}, nil
}

func closeStores(c caches) {
	for name, s := range map[string]*store.Store{"image": c.image, "thumbnail": c.thumbnail, "failure": c.failure} {
		if err := s.Close(); err != nil {
			logging.Warn().Str("cache", name).Err(err).Msg("error closing cache")
		}
	}
}

func registerJanitorServices(tree *supervisor.SupervisorTree, c caches, cfg *config.Config) {
	for name, s := range map[string]*store.Store{"image": c.image, "thumbnail": c.thumbnail, "failure": c.failure} {
		tree.AddJanitorService(&janitor.CompactionService{
			Name:      name,
			Store:     s,
			IdleAfter: cfg.Pipeline.IdleCompactAfter,
		})
	}
	tree.AddJanitorService(&janitor.TTLSweepService{
		Name:     "failure",
		Store:    c.failure,
		Interval: time.Minute,
	})
}

func runOneRequest(ctx context.Context, pl *pipeline.RequestPipeline, path string, width, height int32) error {
	id, err := reqkey.IdentityFor(path)
	if err != nil {
		return fmt.Errorf("identify %s: %w", path, err)
	}
	req := reqkey.Request{
		Domain: reqkey.DomainLocalFile,
		Local:  id,
		Size:   reqkey.Size{Width: width, Height: height},
	}
	start := time.Now()
	data, err := pl.Thumbnail(ctx, req)
	if err != nil {
		return fmt.Errorf("thumbnail %s: %w", path, err)
	}
	logging.Info().Str("path", path).Int("bytes", len(data)).Dur("elapsed", time.Since(start)).Msg("thumbnail resolved")
	return nil
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package config holds process-wide tunables for the thumbnailer core:
// cache sizes and discard policies, rate-limiter parallelism, and the
// pipeline's retry/backoff/timeout/failure-TTL settings.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (THUMBNAILER_ prefix)
//   - Optional config file (thumbnailer.yaml)
//   - Built-in defaults
package config

import (
	"fmt"
	"os"
	"time"
)

// DiscardPolicy selects the eviction discipline for a CacheStore, per
// spec.md §3.1/§4.3.
type DiscardPolicy int

const (
	// PolicyLRUOnly evicts strictly in oldest-access order; no entry expires.
	PolicyLRUOnly DiscardPolicy = 0
	// PolicyLRUTTL reclaims expired entries first, then falls back to LRU order.
	PolicyLRUTTL DiscardPolicy = 1
)

func (p DiscardPolicy) String() string {
	switch p {
	case PolicyLRUOnly:
		return "lru_only"
	case PolicyLRUTTL:
		return "lru_ttl"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// CacheConfig configures a single CacheStore instance.
type CacheConfig struct {
	// Path is the cache directory. Created if it does not exist.
	Path string `koanf:"path"`
	// MaxSizeBytes is the byte bound enforced by eviction.
	MaxSizeBytes int64 `koanf:"max_size_bytes"`
	// Policy is the discard policy; fixed for the lifetime of the directory.
	Policy DiscardPolicy `koanf:"policy"`
	// HeadroomBytes is additional space freed on each eviction pass, to
	// amortize eviction cost. Default 0 (see GLOSSARY "Headroom").
	HeadroomBytes int64 `koanf:"headroom_bytes"`
}

// RateLimiterConfig configures the two admission pools of §4.6.
type RateLimiterConfig struct {
	// LocalParallelism bounds concurrent local-file extractions.
	// Default: number of CPUs, clamped to [1, 8].
	LocalParallelism int `koanf:"local_parallelism"`
	// RemoteParallelism bounds concurrent remote downloads. Default: 2.
	RemoteParallelism int `koanf:"remote_parallelism"`
}

// PipelineConfig configures RequestPipeline behavior, §4.5/§7.
type PipelineConfig struct {
	// ExtractTimeout is the default per-call deadline for extractors.
	ExtractTimeout time.Duration `koanf:"extract_timeout"`
	// MaxRetries bounds TemporaryError retry attempts before surfacing.
	MaxRetries int `koanf:"max_retries"`
	// RetryBaseDelay is the first backoff interval; doubles (capped) per attempt.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`
	// NotFoundTTL is how long a NotFound verdict is cached in the failure cache.
	NotFoundTTL time.Duration `koanf:"not_found_ttl"`
	// HardErrorTTL is how long a HardError verdict is cached.
	HardErrorTTL time.Duration `koanf:"hard_error_ttl"`
	// FullSizeLongEdge bounds the decoded full-size image/video envelope.
	FullSizeLongEdge int `koanf:"full_size_long_edge"`
	// AudioEnvelope bounds the decoded full-size audio cover-art envelope.
	AudioEnvelopeW int `koanf:"audio_envelope_w"`
	AudioEnvelopeH int `koanf:"audio_envelope_h"`
	// IdleCompactAfter is how long a cache must see no pipeline activity
	// before the janitor compacts it (supplemented feature, see SPEC_FULL.md).
	IdleCompactAfter time.Duration `koanf:"idle_compact_after"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Config is the top-level process configuration.
type Config struct {
	ImageCache     CacheConfig       `koanf:"image_cache"`
	ThumbnailCache CacheConfig       `koanf:"thumbnail_cache"`
	FailureCache   CacheConfig       `koanf:"failure_cache"`
	RateLimiter    RateLimiterConfig `koanf:"rate_limiter"`
	Pipeline       PipelineConfig    `koanf:"pipeline"`
	Logging        LoggingConfig     `koanf:"logging"`
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "THUMBNAILER_CONFIG_PATH"

// DefaultConfigPaths lists paths searched, in priority order, when
// THUMBNAILER_CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"thumbnailer.yaml",
	"thumbnailer.yml",
	"/etc/thumbnailer/thumbnailer.yaml",
}

func defaultConfig() *Config {
	return &Config{
		ImageCache: CacheConfig{
			Path:         "image-cache",
			MaxSizeBytes: 200 * 1024 * 1024,
			Policy:       PolicyLRUOnly,
		},
		ThumbnailCache: CacheConfig{
			Path:         "thumbnail-cache",
			MaxSizeBytes: 50 * 1024 * 1024,
			Policy:       PolicyLRUOnly,
		},
		FailureCache: CacheConfig{
			Path:         "failure-cache",
			MaxSizeBytes: 4 * 1024 * 1024,
			Policy:       PolicyLRUTTL,
		},
		RateLimiter: RateLimiterConfig{
			LocalParallelism:  clampParallelism(defaultCPUParallelism()),
			RemoteParallelism: 2,
		},
		Pipeline: PipelineConfig{
			ExtractTimeout:   10 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   200 * time.Millisecond,
			RetryMaxDelay:    5 * time.Second,
			NotFoundTTL:      2 * time.Hour,
			HardErrorTTL:     24 * time.Hour,
			FullSizeLongEdge: 1920,
			AudioEnvelopeW:   200,
			AudioEnvelopeH:   200,
			IdleCompactAfter: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func clampParallelism(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

// Validate checks invariants the CacheStore loaders (§4.3 ConfigMismatch /
// InvalidArgument) rely on: caches need a positive size bound, rate-limiter
// pools need at least one slot.
func (c *Config) Validate() error {
	for name, cc := range map[string]CacheConfig{
		"image_cache":     c.ImageCache,
		"thumbnail_cache": c.ThumbnailCache,
		"failure_cache":   c.FailureCache,
	} {
		if cc.MaxSizeBytes <= 0 {
			return fmt.Errorf("%s: max_size_bytes must be > 0, got %d", name, cc.MaxSizeBytes)
		}
		if cc.Path == "" {
			return fmt.Errorf("%s: path must not be empty", name)
		}
	}
	if c.FailureCache.Policy != PolicyLRUTTL {
		return fmt.Errorf("failure_cache: policy must be lru_ttl, got %s", c.FailureCache.Policy)
	}
	if c.RateLimiter.LocalParallelism < 1 {
		return fmt.Errorf("rate_limiter.local_parallelism must be >= 1")
	}
	if c.RateLimiter.RemoteParallelism < 1 {
		return fmt.Errorf("rate_limiter.remote_parallelism must be >= 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

func defaultCPUParallelism() int {
	return runtime.NumCPU()
}

// Load builds a Config from, in increasing priority order: built-in
// defaults, an optional YAML config file, and THUMBNAILER_-prefixed
// environment variables. The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("THUMBNAILER_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envTransformFunc maps THUMBNAILER_IMAGE_CACHE_MAX_SIZE_BYTES to
// image_cache.max_size_bytes: strip the prefix, lowercase, and turn the
// first underscore-separated segment into the koanf path's dotted prefix.
//
// Only the first component is treated as a section name; the remainder of
// the variable name becomes the (underscore-preserving) leaf key, matching
// the nesting used by the struct tags in config.go.
func envTransformFunc(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "THUMBNAILER_"))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	sections := map[string]bool{
		"image":      true,
		"thumbnail":  true,
		"failure":    true,
		"rate":       true,
		"pipeline":   true,
		"logging":    true,
	}
	if sections[parts[0]] && len(strings.SplitN(parts[1], "_", 2)) > 0 {
		switch parts[0] {
		case "image", "thumbnail", "failure":
			rest := parts[1]
			if strings.HasPrefix(rest, "cache_") {
				return parts[0] + "_cache." + strings.TrimPrefix(rest, "cache_")
			}
		case "rate":
			rest := strings.TrimPrefix(parts[1], "limiter_")
			return "rate_limiter." + rest
		case "pipeline", "logging":
			return parts[0] + "." + parts[1]
		}
	}
	return s
}

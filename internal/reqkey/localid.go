// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package reqkey

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// IdentityFor stats path and builds the LocalFileIdentity a caller needs
// to construct a local-file Request, resolving path to its canonical
// (symlink-free, absolute) form first so two names for the same file
// share a cache entry.
func IdentityFor(path string) (LocalFileIdentity, error) {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return LocalFileIdentity{}, fmt.Errorf("reqkey: resolve %s: %w", path, err)
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return LocalFileIdentity{}, fmt.Errorf("reqkey: absolute path for %s: %w", path, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return LocalFileIdentity{}, fmt.Errorf("reqkey: stat %s: %w", canonical, err)
	}

	id := LocalFileIdentity{
		CanonicalPath: canonical,
		MtimeMs:       info.ModTime().UnixMilli(),
		FileSize:      info.Size(),
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		id.Device = int64(sys.Dev)
		id.Inode = int64(sys.Ino)
	}
	return id, nil
}

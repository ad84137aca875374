// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package reqkey builds the request and content keys the RequestPipeline
// uses to address the image, thumbnail, and failure caches (§3.3, §6.2).
package reqkey

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Domain distinguishes the three request kinds so that album and artist
// requests built from the same artist/album strings never collide.
type Domain byte

const (
	DomainLocalFile Domain = iota
	DomainRemoteAlbum
	DomainRemoteArtist
)

func (d Domain) String() string {
	switch d {
	case DomainLocalFile:
		return "local-file"
	case DomainRemoteAlbum:
		return "remote-album"
	case DomainRemoteArtist:
		return "remote-artist"
	default:
		return fmt.Sprintf("domain(%d)", d)
	}
}

// Size is the requested target rendition size. Either axis may be zero,
// meaning "unbounded on that axis"; (0, 0) is reserved for "the stored
// full-size representation" (§6.2).
type Size struct {
	Width  int32
	Height int32
}

// Unbounded is the (0, 0) sentinel size.
var Unbounded = Size{}

// LocalFileIdentity identifies a local-file request by its canonical path
// plus a content digest derived from filesystem metadata, so that a file
// replaced in place (same path, different inode/mtime/size) gets a fresh
// cache entry rather than a stale hit.
type LocalFileIdentity struct {
	CanonicalPath string
	Device        int64
	Inode         int64
	MtimeMs       int64
	FileSize      int64
}

// ContentDigest returns the blake2b-256 digest of (device, inode, mtime,
// size), used as part of the local-file request key so that metadata
// changes invalidate prior cache entries without rehashing file content.
func (id LocalFileIdentity) ContentDigest() [32]byte {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(id.Device))
	binary.BigEndian.PutUint64(buf[8:16], uint64(id.Inode))
	binary.BigEndian.PutUint64(buf[16:24], uint64(id.MtimeMs))
	binary.BigEndian.PutUint64(buf[24:32], uint64(id.FileSize))
	return blake2b.Sum256(buf[:])
}

// RemoteIdentity identifies a remote-album or remote-artist request.
type RemoteIdentity struct {
	Artist string
	Album  string
}

// Request is the tagged union over the three request kinds plus the
// target size (§3.3).
type Request struct {
	Domain Domain
	Local  LocalFileIdentity
	Remote RemoteIdentity
	Size   Size
}

// identifier returns the domain-specific identity bytes, with no target
// size appended — the shared prefix between a request key and its
// corresponding content key.
func (r Request) identifier() ([]byte, error) {
	switch r.Domain {
	case DomainLocalFile:
		if r.Local.CanonicalPath == "" {
			return nil, fmt.Errorf("reqkey: empty canonical path for local-file request")
		}
		digest := r.Local.ContentDigest()
		path := []byte(r.Local.CanonicalPath)
		out := make([]byte, 0, 4+len(path)+len(digest))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(path)))
		out = append(out, lenBuf[:]...)
		out = append(out, path...)
		out = append(out, digest[:]...)
		return out, nil
	case DomainRemoteAlbum, DomainRemoteArtist:
		if r.Remote.Artist == "" {
			return nil, fmt.Errorf("reqkey: empty artist for %s request", r.Domain)
		}
		artist := []byte(r.Remote.Artist)
		album := []byte(r.Remote.Album)
		out := make([]byte, 0, 4+len(artist)+len(album))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(artist)))
		out = append(out, lenBuf[:]...)
		out = append(out, artist...)
		out = append(out, album...)
		return out, nil
	default:
		return nil, fmt.Errorf("reqkey: unknown domain %d", r.Domain)
	}
}

// ContentKey returns the key selecting the full-size image cache entry:
// the domain tag plus the identifier, with no target size (§6.2 glossary:
// "content key").
func (r Request) ContentKey() ([]byte, error) {
	id, err := r.identifier()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(id))
	out = append(out, byte(r.Domain))
	out = append(out, id...)
	return out, nil
}

// RequestKey returns the key selecting the thumbnail cache entry: the
// content key plus the two 32-bit signed size fields (§6.2).
func (r Request) RequestKey() ([]byte, error) {
	ck, err := r.ContentKey()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ck)+8)
	copy(out, ck)
	binary.BigEndian.PutUint32(out[len(ck):len(ck)+4], uint32(r.Size.Width))
	binary.BigEndian.PutUint32(out[len(ck)+4:], uint32(r.Size.Height))
	return out, nil
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

// Package codec implements the two fixed serializations CacheStore uses on
// disk: the record header and the time-key tuple embedded in the ATime and
// ETime secondary indexes.
package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// SentinelExpiry is the integer representation of "never expires": the
// epoch zero point. Under the strict-LRU policy every record header's
// ExpiryMs equals this value.
const SentinelExpiry int64 = 0

// TimeKeyWidth is the zero-padded decimal width of the millisecond
// timestamp embedded in ATime/ETime index keys. 13 digits covers
// millisecond timestamps through the year 2286, and fixed width keeps
// lexicographic order equal to numeric order.
const TimeKeyWidth = 13

// Header is the record header stored under the Data ("B") prefix: three
// signed 64-bit integers printed in decimal, space-separated.
type Header struct {
	AccessMs   int64
	ExpiryMs   int64
	RecordSize int64
}

// EncodeHeader renders h as "access expiry size".
func EncodeHeader(h Header) []byte {
	return []byte(fmt.Sprintf("%d %d %d", h.AccessMs, h.ExpiryMs, h.RecordSize))
}

// DecodeHeader parses a header previously produced by EncodeHeader. Leading
// whitespace is tolerated; anything else malformed is an error.
func DecodeHeader(b []byte) (Header, error) {
	fields := strings.Fields(string(b))
	if len(fields) != 3 {
		return Header{}, fmt.Errorf("codec: malformed record header %q: want 3 fields, got %d", b, len(fields))
	}
	access, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("codec: malformed access-time in header %q: %w", b, err)
	}
	expiry, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("codec: malformed expiry-time in header %q: %w", b, err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("codec: malformed record-size in header %q: %w", b, err)
	}
	return Header{AccessMs: access, ExpiryMs: expiry, RecordSize: size}, nil
}

// EncodeTimeKey renders the body of an ATime or ETime index key: the
// millisecond timestamp zero-padded to TimeKeyWidth digits, one space, then
// the raw user-key bytes. userKey must be non-empty.
func EncodeTimeKey(timestampMs int64, userKey []byte) ([]byte, error) {
	if len(userKey) == 0 {
		return nil, fmt.Errorf("codec: empty user-key")
	}
	if timestampMs < 0 {
		return nil, fmt.Errorf("codec: negative timestamp %d", timestampMs)
	}
	prefix := fmt.Sprintf("%0*d ", TimeKeyWidth, timestampMs)
	out := make([]byte, 0, len(prefix)+len(userKey))
	out = append(out, prefix...)
	out = append(out, userKey...)
	return out, nil
}

// DecodeTimeKey splits a time-key body back into its timestamp and
// user-key. The embedded space is unambiguous because the timestamp field
// has fixed width.
func DecodeTimeKey(body []byte) (timestampMs int64, userKey []byte, err error) {
	if len(body) < TimeKeyWidth+2 {
		return 0, nil, fmt.Errorf("codec: time-key body too short: %q", body)
	}
	if body[TimeKeyWidth] != ' ' {
		return 0, nil, fmt.Errorf("codec: time-key body missing separator: %q", body)
	}
	ts, err := strconv.ParseInt(string(body[:TimeKeyWidth]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("codec: malformed time-key timestamp %q: %w", body[:TimeKeyWidth], err)
	}
	key := body[TimeKeyWidth+1:]
	if len(key) == 0 {
		return 0, nil, fmt.Errorf("codec: time-key body has empty user-key")
	}
	return ts, key, nil
}

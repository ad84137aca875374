// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package store

import (
	"strconv"

	"github.com/tomtom215/thumbnailer/internal/codec"
)

// Key-prefix bytes multiplexing the logical tables described in §3.1 into
// a single badger keyspace.
const (
	prefixValues   = 'A'
	prefixData     = 'B'
	prefixMetadata = 'C'
	prefixATime    = 'D'
	prefixETime    = 'E'
	prefixStats    = 'X'
	prefixSettings = 'Y'
)

var (
	settingsMaxSizeKey      = []byte("YMAX_SIZE")
	settingsPolicyKey       = []byte("YPOLICY")
	settingsSchemaKey       = []byte("YSCHEMA_VERSION")
	statsValuesKey          = []byte("XVALUES")
	dirtyFlagKey            = []byte("!dirty")
)

// currentSchemaVersion gates format changes (§6.1); a mismatch on open
// silently wipes user rows and stats, keeping settings.
const currentSchemaVersion = 2

func valueKey(userKey []byte) []byte {
	return append([]byte{prefixValues}, userKey...)
}

func dataKey(userKey []byte) []byte {
	return append([]byte{prefixData}, userKey...)
}

func metadataKey(userKey []byte) []byte {
	return append([]byte{prefixMetadata}, userKey...)
}

func atimeIndexKey(ts int64, userKey []byte) ([]byte, error) {
	body, err := codec.EncodeTimeKey(ts, userKey)
	if err != nil {
		return nil, err
	}
	return append([]byte{prefixATime}, body...), nil
}

func etimeIndexKey(ts int64, userKey []byte) ([]byte, error) {
	body, err := codec.EncodeTimeKey(ts, userKey)
	if err != nil {
		return nil, err
	}
	return append([]byte{prefixETime}, body...), nil
}

// encodeSize renders a record-size as the decimal ASCII value stored as
// the ATime/ETime index row's value (§3.1: "Value: record-size").
func encodeSize(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func decodeSize(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

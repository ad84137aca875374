// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package codec

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{AccessMs: 1700000000000, ExpiryMs: SentinelExpiry, RecordSize: 42},
		{AccessMs: 0, ExpiryMs: 1700000000123, RecordSize: 1},
		{AccessMs: -1, ExpiryMs: -1, RecordSize: 0},
	}
	for _, h := range cases {
		enc := EncodeHeader(h)
		got, err := DecodeHeader(enc)
		if err != nil {
			t.Fatalf("DecodeHeader(%q): %v", enc, err)
		}
		if got != h {
			t.Errorf("round trip %+v -> %q -> %+v", h, enc, got)
		}
	}
}

func TestDecodeHeaderTolerateLeadingWhitespace(t *testing.T) {
	got, err := DecodeHeader([]byte("   12 0 34"))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	want := Header{AccessMs: 12, ExpiryMs: 0, RecordSize: 34}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeHeaderMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("12 34"),
		[]byte("12 34 56 78"),
		[]byte("a 34 56"),
		[]byte(""),
	}
	for _, c := range cases {
		if _, err := DecodeHeader(c); err == nil {
			t.Errorf("DecodeHeader(%q): expected error", c)
		}
	}
}

func TestTimeKeyRoundTrip(t *testing.T) {
	key, err := EncodeTimeKey(1700000000123, []byte("album:foo bar"))
	if err != nil {
		t.Fatalf("EncodeTimeKey: %v", err)
	}
	wantPrefix := "1700000000123 "
	if string(key[:len(wantPrefix)]) != wantPrefix {
		t.Fatalf("EncodeTimeKey prefix = %q, want %q", key[:len(wantPrefix)], wantPrefix)
	}
	ts, userKey, err := DecodeTimeKey(key)
	if err != nil {
		t.Fatalf("DecodeTimeKey: %v", err)
	}
	if ts != 1700000000123 {
		t.Errorf("ts = %d, want 1700000000123", ts)
	}
	if !bytes.Equal(userKey, []byte("album:foo bar")) {
		t.Errorf("userKey = %q, want %q", userKey, "album:foo bar")
	}
}

func TestTimeKeyLexicographicOrder(t *testing.T) {
	// Zero-padding to TimeKeyWidth digits must make lexicographic order
	// equal numeric order across the full int64 millisecond range used here.
	a, _ := EncodeTimeKey(5, []byte("k"))
	b, _ := EncodeTimeKey(10, []byte("k"))
	c, _ := EncodeTimeKey(9999999999999, []byte("k"))
	if !(bytes.Compare(a, b) < 0 && bytes.Compare(b, c) < 0) {
		t.Errorf("expected a < b < c, got a=%q b=%q c=%q", a, b, c)
	}
}

func TestEncodeTimeKeyRejectsEmptyUserKey(t *testing.T) {
	if _, err := EncodeTimeKey(1, nil); err == nil {
		t.Error("expected error for empty user-key")
	}
}

func TestDecodeTimeKeyRejectsShortBody(t *testing.T) {
	if _, _, err := DecodeTimeKey([]byte("123")); err == nil {
		t.Error("expected error for short body")
	}
}

func TestDecodeTimeKeyRejectsMissingSeparator(t *testing.T) {
	body := []byte("0000000000000k")
	if _, _, err := DecodeTimeKey(body); err == nil {
		t.Error("expected error for missing separator")
	}
}

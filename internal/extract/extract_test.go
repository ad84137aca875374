// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
	"github.com/tomtom215/thumbnailer/internal/reqkey"
)

func TestHTTPDownloaderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	d := NewHTTPDownloader(nil)
	data, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("Download data = %q", data)
	}
}

func TestHTTPDownloaderClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, pipelineerr.ErrNotFound},
		{http.StatusTooManyRequests, pipelineerr.ErrTemporary},
		{http.StatusInternalServerError, pipelineerr.ErrTemporary},
		{http.StatusBadGateway, pipelineerr.ErrTemporary},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		d := NewHTTPDownloader(nil)
		_, err := d.Download(context.Background(), srv.URL)
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: err = %v, want %v", c.status, err, c.want)
		}
		srv.Close()
	}
}

func TestHTTPDownloaderRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDownloader(nil)
	_, err := d.Download(context.Background(), srv.URL)
	if !errors.Is(err, pipelineerr.ErrHard) {
		t.Errorf("empty body: err = %v, want ErrHard", err)
	}
}

func TestTintRoundTrip(t *testing.T) {
	data := []byte{0xff, 0x01, 0x02, 0x03}
	tinted, err := Tint(data, OrientationRotate90CW)
	if err != nil {
		t.Fatalf("Tint: %v", err)
	}
	got, err := Untint(tinted)
	if err != nil {
		t.Fatalf("Untint: %v", err)
	}
	if got != OrientationRotate90CW {
		t.Errorf("Untint = %v, want %v", got, OrientationRotate90CW)
	}
}

func TestTintRejectsInvalidOrientation(t *testing.T) {
	if _, err := Tint([]byte{1}, 0); err == nil {
		t.Error("expected error for orientation 0")
	}
	if _, err := Tint([]byte{1}, 9); err == nil {
		t.Error("expected error for orientation 9")
	}
}

func TestTintRejectsEmptyData(t *testing.T) {
	if _, err := Tint(nil, OrientationNormal); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestFakeLocalExtractorCountsCalls(t *testing.T) {
	f := &FakeLocalExtractor{Data: []byte("x")}
	for i := 0; i < 3; i++ {
		if _, err := f.Extract(context.Background(), "/a", reqkey.Unbounded); err != nil {
			t.Fatalf("Extract: %v", err)
		}
	}
	if f.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", f.Calls())
	}
}

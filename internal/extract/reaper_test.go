// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestSubprocessReaperKillsOverdueProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	defer func() { _ = cmd.Process.Kill() }()

	reg := NewProcessRegistry()
	reg.Track(cmd.Process, "test", time.Now().Add(-time.Second))

	svc := &SubprocessReaperService{Registry: reg, PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not kill overdue process in time")
	}

	cancel()
	<-done
}

func TestProcessRegistryOverdueEmpty(t *testing.T) {
	reg := NewProcessRegistry()
	if got := reg.overdue(time.Now().Add(time.Hour)); len(got) != 0 {
		t.Fatalf("overdue on empty registry = %d entries, want 0", len(got))
	}
}

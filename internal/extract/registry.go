// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"os"
	"sync"
	"time"
)

// ProcessRegistry tracks the extraction helper children SubprocessExtractor
// has launched, so a SubprocessReaperService can force-kill any that
// outlive their caller's context deadline (§6.3). exec.CommandContext
// already sends the kill signal on cancellation, but it runs that signal
// from the same goroutine that called cmd.Run(); if that goroutine is
// itself stuck (e.g. blocked on a full stdout pipe), the child is never
// reaped without an independent watcher.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs map[int]*trackedProc
}

type trackedProc struct {
	proc     *os.Process
	path     string
	deadline time.Time
}

// NewProcessRegistry returns an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[int]*trackedProc)}
}

// Track registers a running child process with the absolute time by which
// it should have exited. Untrack must be called once the caller has
// reaped it via cmd.Wait.
func (r *ProcessRegistry) Track(proc *os.Process, path string, deadline time.Time) {
	if r == nil || proc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[proc.Pid] = &trackedProc{proc: proc, path: path, deadline: deadline}
}

// Untrack removes a process once it has been waited on.
func (r *ProcessRegistry) Untrack(pid int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// overdue returns every tracked process whose deadline has passed as of now.
func (r *ProcessRegistry) overdue(now time.Time) []*trackedProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trackedProc
	for _, p := range r.procs {
		if now.After(p.deadline) {
			out = append(out, p)
		}
	}
	return out
}

// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/tomtom215/thumbnailer/internal/logging"
	"github.com/tomtom215/thumbnailer/internal/pipelineerr"
	"github.com/tomtom215/thumbnailer/internal/reqkey"
)

// subprocessGrace is how long past ctx's deadline a SubprocessReaperService
// waits before force-killing a helper that exec.CommandContext's own
// cancellation goroutine failed to reap.
const subprocessGrace = 5 * time.Second

// Exit codes the extraction helper contract assigns meaning to (§6.3).
const (
	exitOK          = 0
	exitNoFrame     = 1 // no representative frame or embedded cover art; a definitive absence
	exitUnsupported = 2 // bad or unsupported input; not worth retrying
)

// SubprocessExtractor shells out to an external helper binary to render a
// thumbnail, matching the subprocess contract in §6.3: the helper is
// invoked as `<binary> <path> <width> <height>`, writes the rendered
// image to stdout, and signals outcome via its exit code.
type SubprocessExtractor struct {
	binary   string
	registry *ProcessRegistry
}

// NewSubprocessExtractor returns a LocalExtractor that invokes binary for
// every extraction.
func NewSubprocessExtractor(binary string) *SubprocessExtractor {
	return &SubprocessExtractor{binary: binary}
}

// WithRegistry returns a copy of e that registers every child it launches
// with reg, so a SubprocessReaperService can force-kill ones that outlive
// their deadline.
func (e *SubprocessExtractor) WithRegistry(reg *ProcessRegistry) *SubprocessExtractor {
	return &SubprocessExtractor{binary: e.binary, registry: reg}
}

func (e *SubprocessExtractor) Extract(ctx context.Context, path string, size reqkey.Size) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.binary, path, strconv.Itoa(int(size.Width)), strconv.Itoa(int(size.Height)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("extract: %w: launch helper %s: %v", pipelineerr.ErrHard, e.binary, err)
	}
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(time.Hour)
	}
	e.registry.Track(cmd.Process, path, deadline.Add(subprocessGrace))
	defer e.registry.Untrack(cmd.Process.Pid)

	err := cmd.Wait()
	if err == nil {
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("extract: %w: helper exited 0 with empty output for %s", pipelineerr.ErrHard, path)
		}
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("extract: %w: %v", pipelineerr.ErrTimeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("extract: %w: launch helper %s: %v", pipelineerr.ErrHard, e.binary, err)
	}

	logging.Debug().Str("path", path).Int("exit_code", exitErr.ExitCode()).Str("stderr", stderr.String()).Msg("extraction helper exited non-zero")

	switch exitErr.ExitCode() {
	case exitNoFrame:
		return nil, fmt.Errorf("extract: %w: helper found nothing to render for %s: %s", pipelineerr.ErrNotFound, path, stderr.String())
	case exitUnsupported:
		return nil, fmt.Errorf("extract: %w: helper rejected %s: %s", pipelineerr.ErrHard, path, stderr.String())
	default:
		// A crash or unrecognized signal; not worth retrying.
		return nil, fmt.Errorf("extract: %w: helper crashed (exit %d) for %s: %s", pipelineerr.ErrHard, exitErr.ExitCode(), path, stderr.String())
	}
}

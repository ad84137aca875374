// Thumbnailer - Persistent Image Cache and Extraction Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thumbnailer

package extract

import (
	"context"
	"time"

	"github.com/tomtom215/thumbnailer/internal/logging"
)

// SubprocessReaperService is the extract-layer suture.Service promised by
// internal/supervisor's doc comment: it scans a ProcessRegistry and kills
// any extraction helper still running past its tracked deadline.
type SubprocessReaperService struct {
	Registry     *ProcessRegistry
	PollInterval time.Duration
}

func (s *SubprocessReaperService) interval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return 5 * time.Second
}

// Serve implements suture.Service.
func (s *SubprocessReaperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range s.Registry.overdue(time.Now()) {
				logging.Warn().Str("path", p.path).Int("pid", p.proc.Pid).Msg("killing overdue extraction helper")
				if err := p.proc.Kill(); err != nil {
					logging.Warn().Str("path", p.path).Int("pid", p.proc.Pid).Err(err).Msg("failed to kill overdue extraction helper")
				}
			}
		}
	}
}

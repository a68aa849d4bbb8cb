// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package housekeeping schedules periodic cleanup of the receive
// directory via a cron expression, mirroring the original receiver's
// age-based cleanup as a recurring job instead of a manually-invoked one.
package housekeeping

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/storage"
)

// Scheduler runs FileManager.CleanupOld on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds a Scheduler that runs cleanup according to cfg.Schedule,
// removing files older than cfg.MaxAge. It returns nil, nil when
// housekeeping is disabled.
func New(cfg config.HousekeepingConfig, fm *storage.FileManager, logger *slog.Logger) (*Scheduler, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(cfg.Schedule, func() {
		removed, err := fm.CleanupOld(time.Now(), cfg.MaxAge)
		if err != nil {
			logger.Error("housekeeping cleanup failed", "error", err)
			return
		}
		logger.Info("housekeeping cleanup complete", "removed", removed, "max_age", cfg.MaxAge)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling housekeeping job %q: %w", cfg.Schedule, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running the cron schedule in the background. A nil
// Scheduler (housekeeping disabled) is a safe no-op.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts the cron schedule and waits for any in-flight job to
// finish. A nil Scheduler is a safe no-op.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

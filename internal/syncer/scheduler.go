package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler triggers a sync on a fixed interval.
type Scheduler struct {
	interval   time.Duration
	svc        *Service
	runOnStart bool
}

// NewScheduler creates a scheduler for svc. runOnStart fires one sync
// immediately instead of waiting for the first tick.
func NewScheduler(interval time.Duration, svc *Service, runOnStart bool) *Scheduler {
	if svc == nil {
		panic("syncer: service must not be nil")
	}
	return &Scheduler{interval: interval, svc: svc, runOnStart: runOnStart}
}

// Start runs until ctx is cancelled. Failed runs are logged and retried on the
// next tick only.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting sync scheduler",
		"interval", s.interval,
		"run_on_start", s.runOnStart,
	)

	if s.runOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.svc.Trigger(ctx); err != nil {
		// Run already logged the failure details.
		slog.Warn("[Scheduler] Scheduled sync failed", "next_run_in", s.interval)
	}
}

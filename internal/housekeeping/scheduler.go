package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"sentraguard/internal/audit"
	"sentraguard/internal/release"
)

// Scheduler prunes retention-bound tables and rotates the audit journal on
// a fixed interval, so the store stays bounded even when no release
// traffic triggers the inline housekeeping.
type Scheduler struct {
	store   release.Store
	journal *audit.Appender
	logger  *slog.Logger

	interval      time.Duration
	replayWindow  time.Duration
	rateLimitSpan time.Duration
	lockoutSpan   time.Duration
	auditKeep     time.Duration
}

func New(
	store release.Store,
	journal *audit.Appender,
	interval, replayWindow, rateLimitSpan, lockoutSpan, auditKeep time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:         store,
		journal:       journal,
		logger:        logger,
		interval:      interval,
		replayWindow:  replayWindow,
		rateLimitSpan: rateLimitSpan,
		lockoutSpan:   lockoutSpan,
		auditKeep:     auditKeep,
	}
}

// Run blocks until ctx is done, sweeping once per interval. Every failure
// is logged and swallowed; housekeeping never takes the service down.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one housekeeping pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now()
	if err := s.store.PruneNonces(ctx, now.Add(-s.replayWindow)); err != nil {
		s.logger.Error("prune nonces", "err", err)
	}
	if err := s.store.PruneAttempts(ctx, now.Add(-s.rateLimitSpan)); err != nil {
		s.logger.Error("prune release attempts", "err", err)
	}
	if err := s.store.PruneAuthFailures(ctx, now.Add(-s.lockoutSpan)); err != nil {
		s.logger.Error("prune auth failures", "err", err)
	}
	if err := s.store.PruneAudit(ctx, now.Add(-s.auditKeep)); err != nil {
		s.logger.Error("prune release audit", "err", err)
	}
	if s.journal != nil {
		if err := s.journal.Rotate(); err != nil {
			s.logger.Error("rotate audit journal", "err", err)
		}
	}
	s.logger.Debug("housekeeping sweep complete")
}

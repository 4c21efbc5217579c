package containment

import (
	"context"
	"log/slog"
	"time"
)

// ConsistencyChecker compares durable containment rows against this
// process's memory at startup. It is a diagnostic: stale rows are only
// flagged here and cleaned up by the subsequent LoadState pass.
type ConsistencyChecker struct {
	store  StateStore
	logger *slog.Logger
}

func NewConsistencyChecker(store StateStore, logger *slog.Logger) *ConsistencyChecker {
	return &ConsistencyChecker{store: store, logger: logger}
}

type ConsistencyReport struct {
	Total      int
	Stale      int
	Unmirrored int
}

// Run inspects every persisted row. Rows past expiry are stale; rows still
// active but absent from the controller's memory were written by another
// process (or a previous run) and will be adopted on load. Failures are
// non-fatal.
func (cc *ConsistencyChecker) Run(ctx context.Context, ctrl *Controller) ConsistencyReport {
	var report ConsistencyReport
	rows, err := cc.store.LoadAll(ctx)
	if err != nil {
		cc.logger.Error("consistency check: load containment rows", "err", err)
		return report
	}
	now := time.Now()
	inMemory := make(map[key]struct{})
	if ctrl != nil {
		for _, st := range ctrl.Snapshot() {
			inMemory[key{st.TargetType, st.TargetID}] = struct{}{}
		}
	}
	report.Total = len(rows)
	for _, st := range rows {
		if !st.IsActive(now) {
			report.Stale++
			cc.logger.Warn("stale containment row",
				"target_type", st.TargetType, "target_id", st.TargetID, "expires_at", st.ExpiresAt)
			continue
		}
		if _, ok := inMemory[key{st.TargetType, st.TargetID}]; !ok {
			report.Unmirrored++
			cc.logger.Warn("containment row active in store but not in memory",
				"target_type", st.TargetType, "target_id", st.TargetID, "incident_id", st.IncidentID)
		}
	}
	cc.logger.Info("containment consistency check",
		"rows", report.Total, "stale", report.Stale, "unmirrored", report.Unmirrored)
	return report
}

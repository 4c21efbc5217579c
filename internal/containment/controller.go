package containment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentraguard/internal/events"
	"sentraguard/internal/metrics"
)

type key struct {
	targetType events.TargetType
	targetID   string
}

// Controller owns the in-memory containment map and keeps the durable
// store in step. Expiry is lazy: entries are removed when a check finds
// them past expires_at, not by a timer.
type Controller struct {
	mu       sync.Mutex
	states   map[key]*State
	store    StateStore
	duration time.Duration
	logger   *slog.Logger

	now func() time.Time
}

func NewController(store StateStore, duration time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		states:   make(map[key]*State),
		store:    store,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply upserts a containment entry for the target. A second apply on the
// same target replaces the entry and extends its expiry.
func (c *Controller) Apply(ctx context.Context, targetType events.TargetType, targetID string, action Action, incidentID, reason string) *State {
	now := c.now()
	st := &State{
		TargetType: targetType,
		TargetID:   targetID,
		Action:     action,
		AppliedAt:  now,
		ExpiresAt:  now.Add(c.duration),
		Reason:     reason,
		IncidentID: incidentID,
	}

	c.mu.Lock()
	c.states[key{targetType, targetID}] = st
	c.mu.Unlock()

	if err := c.store.Upsert(ctx, st); err != nil {
		// In-memory state stays authoritative for this process.
		c.logger.Error("persist containment state", "err", err, "target", targetID)
		metrics.StoreErrors.WithLabelValues("containment_state").Inc()
	}
	metrics.ContainmentsApplied.WithLabelValues(string(action)).Inc()
	metrics.ContainmentsActive.Set(float64(c.count()))
	c.logger.Info("containment applied",
		"action", action, "target_type", targetType, "target_id", targetID,
		"incident_id", incidentID, "expires_at", st.ExpiresAt)
	return st
}

// Check returns the active containment covering the sender or the channel,
// in that order. Expired entries found along the way are deleted from
// memory and from the store.
func (c *Controller) Check(ctx context.Context, sender, channel string) *State {
	now := c.now()
	lookups := []key{
		{events.TargetSender, sender},
		{events.TargetChannel, channel},
	}
	for _, k := range lookups {
		c.mu.Lock()
		st, ok := c.states[k]
		if ok && !st.IsActive(now) {
			delete(c.states, k)
			ok = false
			c.mu.Unlock()
			c.expireRow(ctx, k)
			continue
		}
		c.mu.Unlock()
		if ok {
			return st
		}
	}
	return nil
}

func (c *Controller) expireRow(ctx context.Context, k key) {
	if _, err := c.store.Delete(ctx, k.targetType, k.targetID); err != nil {
		c.logger.Error("delete expired containment", "err", err, "target", k.targetID)
		metrics.StoreErrors.WithLabelValues("containment_state").Inc()
	}
	metrics.ContainmentsActive.Set(float64(c.count()))
	c.logger.Info("containment expired", "target_type", k.targetType, "target_id", k.targetID)
}

// IsAdvisoryOnly reports whether any active entry carries the global
// advisory-only action.
func (c *Controller) IsAdvisoryOnly() bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.states {
		if st.Action == ActionAdvisoryOnly && st.IsActive(now) {
			return true
		}
	}
	return false
}

// Release removes the entry for the target from memory and store,
// unconditionally. Returns whether an entry existed anywhere. This is the
// unauthenticated primitive; operator use goes through the release
// authority.
func (c *Controller) Release(ctx context.Context, targetType events.TargetType, targetID string) bool {
	k := key{targetType, targetID}
	c.mu.Lock()
	_, existed := c.states[k]
	delete(c.states, k)
	c.mu.Unlock()

	deleted, err := c.store.Delete(ctx, targetType, targetID)
	if err != nil {
		c.logger.Error("delete containment state", "err", err, "target", targetID)
		metrics.StoreErrors.WithLabelValues("containment_state").Inc()
	}
	metrics.ContainmentsActive.Set(float64(c.count()))
	return existed || deleted
}

// LoadState populates memory from the store at startup, dropping rows that
// expired while no process was running.
func (c *Controller) LoadState(ctx context.Context) error {
	rows, err := c.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	now := c.now()
	loaded := 0
	for i := range rows {
		st := rows[i]
		if !st.IsActive(now) {
			if _, err := c.store.Delete(ctx, st.TargetType, st.TargetID); err != nil {
				c.logger.Error("delete expired containment on load", "err", err, "target", st.TargetID)
			}
			continue
		}
		c.mu.Lock()
		c.states[key{st.TargetType, st.TargetID}] = &st
		c.mu.Unlock()
		loaded++
	}
	metrics.ContainmentsActive.Set(float64(loaded))
	c.logger.Info("containment state loaded", "active", loaded, "expired_dropped", len(rows)-loaded)
	return nil
}

// Snapshot returns a copy of all in-memory entries, for stats and
// forensic bundles.
func (c *Controller) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, *st)
	}
	return out
}

func (c *Controller) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

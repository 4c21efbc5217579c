package release

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentraguard/internal/audit"
	"sentraguard/internal/events"
	"sentraguard/internal/metrics"
)

// Releaser is the containment primitive the authority wraps with
// authentication. Satisfied by containment.Controller.
type Releaser interface {
	Release(ctx context.Context, targetType events.TargetType, targetID string) bool
}

// Notifier dispatches the release notification on success.
type Notifier interface {
	Dispatch(eventType, severity string, details map[string]interface{}) bool
}

// Config carries the authority's security parameters.
type Config struct {
	Token          string
	PreviousToken  string
	ReplayWindow   time.Duration
	RateLimitCount int
	RateLimitSpan  time.Duration
	FailThreshold  int
	LockoutSpan    time.Duration
}

// Authority runs the authenticated release pipeline: housekeeping, attempt
// accounting, rate limit, lockout, token validation, replay protection,
// and finally the release itself. Each stage short-circuits with its own
// reason code; every attempt writes exactly one audit record.
type Authority struct {
	mu     sync.Mutex
	nonces map[string]time.Time

	cfg        Config
	store      Store
	releaser   Releaser
	notifier   Notifier
	journal    *audit.Appender
	logger     *slog.Logger

	now func() time.Time
}

func NewAuthority(cfg Config, store Store, releaser Releaser, notifier Notifier, journal *audit.Appender, logger *slog.Logger) *Authority {
	return &Authority{
		nonces:   make(map[string]time.Time),
		cfg:      cfg,
		store:    store,
		releaser: releaser,
		notifier: notifier,
		journal:  journal,
		logger:   logger,
		now:      time.Now,
	}
}

// Release executes one authenticated release attempt.
func (a *Authority) Release(ctx context.Context, req Request) Result {
	now := a.now()
	releaseID := uuid.NewString()

	a.housekeep(ctx, now)

	// The attempt is recorded before any decision so failed attempts count
	// toward the rate limit too.
	if err := a.store.RecordAttempt(ctx, req.RequestedBy, req.SessionID, now); err != nil {
		a.logger.Error("record release attempt", "err", err)
		metrics.StoreErrors.WithLabelValues("release_attempts").Inc()
	}

	targetType := events.TargetType(req.TargetType)
	if !targetType.Valid() {
		return a.finish(ctx, req, releaseID, now, false, ReasonInvalidTarget)
	}

	if a.rateLimited(ctx, req, now) {
		return a.finish(ctx, req, releaseID, now, false, ReasonRateLimited)
	}

	if a.lockedOut(ctx, req, now) {
		return a.finish(ctx, req, releaseID, now, false, ReasonLockedOut)
	}

	if !a.tokenValid(req.Token) {
		if err := a.store.RecordAuthFailure(ctx, req.RequestedBy, req.SessionID, now); err != nil {
			a.logger.Error("record auth failure", "err", err)
			metrics.StoreErrors.WithLabelValues("auth_failures").Inc()
		}
		return a.finish(ctx, req, releaseID, now, false, ReasonAuthFailed)
	}

	if !a.consumeNonce(ctx, req.Nonce, now) {
		return a.finish(ctx, req, releaseID, now, false, ReasonReplayDetected)
	}

	existed := a.releaser.Release(ctx, targetType, req.TargetID)
	if !existed {
		return a.finish(ctx, req, releaseID, now, false, ReasonNotFound)
	}

	res := a.finish(ctx, req, releaseID, now, true, ReasonNone)
	if a.notifier != nil {
		a.notifier.Dispatch("containment_released", "info", map[string]interface{}{
			"target_type":  req.TargetType,
			"target_id":    req.TargetID,
			"requested_by": req.RequestedBy,
			"release_id":   releaseID,
		})
	}
	return res
}

func (a *Authority) rateLimited(ctx context.Context, req Request, now time.Time) bool {
	n, err := a.store.CountAttempts(ctx, req.RequestedBy, req.SessionID, now.Add(-a.cfg.RateLimitSpan))
	if err != nil {
		// Accounting failure must not block operators from releasing.
		a.logger.Error("count release attempts", "err", err)
		metrics.StoreErrors.WithLabelValues("release_attempts").Inc()
		return false
	}
	return n > a.cfg.RateLimitCount
}

func (a *Authority) lockedOut(ctx context.Context, req Request, now time.Time) bool {
	n, err := a.store.CountAuthFailures(ctx, req.RequestedBy, req.SessionID, now.Add(-a.cfg.LockoutSpan))
	if err != nil {
		a.logger.Error("count auth failures", "err", err)
		metrics.StoreErrors.WithLabelValues("auth_failures").Inc()
		return false
	}
	return n >= a.cfg.FailThreshold
}

// tokenValid compares in constant time against the current token, then the
// previous one when configured, so token rotation does not lock operators
// out mid-rollover.
func (a *Authority) tokenValid(token string) bool {
	if token == "" || a.cfg.Token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.Token)) == 1 {
		return true
	}
	if a.cfg.PreviousToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.PreviousToken)) == 1 {
		return true
	}
	return false
}

// consumeNonce accepts a nonce at most once. The durable insert is a
// single constraint-enforced statement; any store error fails closed
// because availability must not weaken the anti-replay guarantee.
func (a *Authority) consumeNonce(ctx context.Context, nonce string, now time.Time) bool {
	if nonce == "" {
		return false
	}
	a.mu.Lock()
	if _, seen := a.nonces[nonce]; seen {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	inserted, err := a.store.InsertNonce(ctx, nonce, now)
	if err != nil {
		a.logger.Error("insert nonce, failing closed", "err", err)
		metrics.StoreErrors.WithLabelValues("used_nonces").Inc()
		return false
	}
	if !inserted {
		return false
	}
	a.mu.Lock()
	a.nonces[nonce] = now
	a.mu.Unlock()
	return true
}

// finish writes the audit record for this attempt to both sinks. Each sink
// is independently best-effort; the decision already made is not reversed
// by a persistence failure.
func (a *Authority) finish(ctx context.Context, req Request, releaseID string, now time.Time, success bool, reason Reason) Result {
	rec := &AuditRecord{
		ReleaseID:   releaseID,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
		SourceIP:    req.SourceIP,
		SessionID:   req.SessionID,
		Timestamp:   now,
		Success:     success,
		AuthMethod:  "token",
	}
	if err := a.store.InsertAudit(ctx, rec); err != nil {
		a.logger.Error("insert release audit", "err", err, "release_id", releaseID)
		metrics.StoreErrors.WithLabelValues("release_audit").Inc()
	}
	if a.journal != nil {
		if err := a.journal.Append(rec); err != nil {
			a.logger.Error("append release audit journal", "err", err, "release_id", releaseID)
		}
	}

	outcome := string(reason)
	if success {
		outcome = "success"
	}
	metrics.ReleaseAttempts.WithLabelValues(outcome).Inc()
	a.logger.Info("release attempt",
		"release_id", releaseID, "target_type", req.TargetType, "target_id", req.TargetID,
		"requested_by", req.RequestedBy, "success", success, "error", reason)

	return Result{Success: success, Error: reason, ReleaseID: releaseID}
}

// housekeep prunes replay nonces, attempt rows, and auth-failure rows that
// aged out of their windows. Runs at the head of every release attempt.
func (a *Authority) housekeep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-a.cfg.ReplayWindow)
	a.mu.Lock()
	for n, t := range a.nonces {
		if t.Before(cutoff) {
			delete(a.nonces, n)
		}
	}
	a.mu.Unlock()

	if err := a.store.PruneNonces(ctx, cutoff); err != nil {
		a.logger.Error("prune nonces", "err", err)
	}
	if err := a.store.PruneAttempts(ctx, now.Add(-a.cfg.RateLimitSpan)); err != nil {
		a.logger.Error("prune release attempts", "err", err)
	}
	if err := a.store.PruneAuthFailures(ctx, now.Add(-a.cfg.LockoutSpan)); err != nil {
		a.logger.Error("prune auth failures", "err", err)
	}
}

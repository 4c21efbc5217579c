package housekeeping

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentraguard/internal/release"
)

type pruneRecorder struct {
	nonces, attempts, failures, audit time.Time
}

func (p *pruneRecorder) InsertNonce(ctx context.Context, nonce string, usedAt time.Time) (bool, error) {
	return true, nil
}

func (p *pruneRecorder) RecordAttempt(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	return nil
}

func (p *pruneRecorder) CountAttempts(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	return 0, nil
}

func (p *pruneRecorder) RecordAuthFailure(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	return nil
}

func (p *pruneRecorder) CountAuthFailures(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	return 0, nil
}

func (p *pruneRecorder) InsertAudit(ctx context.Context, rec *release.AuditRecord) error {
	return nil
}

func (p *pruneRecorder) ListAudit(ctx context.Context, limit int, targetID string) ([]release.AuditRecord, error) {
	return nil, nil
}

func (p *pruneRecorder) PruneNonces(ctx context.Context, before time.Time) error {
	p.nonces = before
	return nil
}

func (p *pruneRecorder) PruneAttempts(ctx context.Context, before time.Time) error {
	p.attempts = before
	return nil
}

func (p *pruneRecorder) PruneAuthFailures(ctx context.Context, before time.Time) error {
	p.failures = before
	return nil
}

func (p *pruneRecorder) PruneAudit(ctx context.Context, before time.Time) error {
	p.audit = before
	return nil
}

func TestSweepUsesRetentionWindows(t *testing.T) {
	store := &pruneRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store, nil, time.Minute, 5*time.Minute, time.Minute, 10*time.Minute, 48*time.Hour, logger)

	before := time.Now()
	s.Sweep(context.Background())
	after := time.Now()

	// Each cutoff sits "window" behind now, within the test's runtime slack.
	assert.WithinDuration(t, before.Add(-5*time.Minute), store.nonces, after.Sub(before)+time.Second)
	assert.WithinDuration(t, before.Add(-time.Minute), store.attempts, after.Sub(before)+time.Second)
	assert.WithinDuration(t, before.Add(-10*time.Minute), store.failures, after.Sub(before)+time.Second)
	assert.WithinDuration(t, before.Add(-48*time.Hour), store.audit, after.Sub(before)+time.Second)
}

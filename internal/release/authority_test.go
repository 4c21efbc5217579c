package release

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentraguard/internal/events"
)

type attemptRow struct {
	requestedBy, sessionID string
	at                     time.Time
}

type fakeStore struct {
	nonces      map[string]time.Time
	attempts    []attemptRow
	failures    []attemptRow
	auditRows   []AuditRecord
	nonceErr    error
	attemptsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{nonces: map[string]time.Time{}}
}

func (f *fakeStore) InsertNonce(ctx context.Context, nonce string, usedAt time.Time) (bool, error) {
	if f.nonceErr != nil {
		return false, f.nonceErr
	}
	if _, ok := f.nonces[nonce]; ok {
		return false, nil
	}
	f.nonces[nonce] = usedAt
	return true, nil
}

func (f *fakeStore) RecordAttempt(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	f.attempts = append(f.attempts, attemptRow{requestedBy, sessionID, at})
	return nil
}

func (f *fakeStore) CountAttempts(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	if f.attemptsErr != nil {
		return 0, f.attemptsErr
	}
	n := 0
	for _, a := range f.attempts {
		if (a.requestedBy == requestedBy || a.sessionID == sessionID) && !a.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RecordAuthFailure(ctx context.Context, requestedBy, sessionID string, at time.Time) error {
	f.failures = append(f.failures, attemptRow{requestedBy, sessionID, at})
	return nil
}

func (f *fakeStore) CountAuthFailures(ctx context.Context, requestedBy, sessionID string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.failures {
		if (a.requestedBy == requestedBy || a.sessionID == sessionID) && !a.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertAudit(ctx context.Context, rec *AuditRecord) error {
	f.auditRows = append(f.auditRows, *rec)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, limit int, targetID string) ([]AuditRecord, error) {
	return f.auditRows, nil
}

func (f *fakeStore) PruneNonces(ctx context.Context, before time.Time) error {
	for n, t := range f.nonces {
		if t.Before(before) {
			delete(f.nonces, n)
		}
	}
	return nil
}

func (f *fakeStore) PruneAttempts(ctx context.Context, before time.Time) error {
	kept := f.attempts[:0]
	for _, a := range f.attempts {
		if !a.at.Before(before) {
			kept = append(kept, a)
		}
	}
	f.attempts = kept
	return nil
}

func (f *fakeStore) PruneAuthFailures(ctx context.Context, before time.Time) error {
	kept := f.failures[:0]
	for _, a := range f.failures {
		if !a.at.Before(before) {
			kept = append(kept, a)
		}
	}
	f.failures = kept
	return nil
}

func (f *fakeStore) PruneAudit(ctx context.Context, before time.Time) error { return nil }

type fakeReleaser struct {
	contained map[string]bool
	released  []string
}

func (f *fakeReleaser) Release(ctx context.Context, tt events.TargetType, id string) bool {
	k := string(tt) + "/" + id
	existed := f.contained[k]
	delete(f.contained, k)
	f.released = append(f.released, k)
	return existed
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Dispatch(eventType, severity string, details map[string]interface{}) bool {
	f.sent = append(f.sent, eventType)
	return true
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Token:          "current-token",
		PreviousToken:  "previous-token",
		ReplayWindow:   5 * time.Minute,
		RateLimitCount: 5,
		RateLimitSpan:  time.Minute,
		FailThreshold:  3,
		LockoutSpan:    5 * time.Minute,
	}
}

func newTestAuthority(cfg Config) (*Authority, *fakeStore, *fakeReleaser, *fakeNotifier) {
	store := newFakeStore()
	releaser := &fakeReleaser{contained: map[string]bool{"sender/bad_user": true}}
	notifier := &fakeNotifier{}
	a := NewAuthority(cfg, store, releaser, notifier, nil, discard())
	return a, store, releaser, notifier
}

func validRequest(nonce string) Request {
	return Request{
		TargetType:  "sender",
		TargetID:    "bad_user",
		Token:       "current-token",
		Nonce:       nonce,
		RequestedBy: "alice",
		Reason:      "false positive",
		SourceIP:    "10.0.0.1",
		SessionID:   "sess-1",
	}
}

func TestSuccessfulRelease(t *testing.T) {
	a, store, releaser, notifier := newTestAuthority(testConfig())

	res := a.Release(context.Background(), validRequest("nonce-1"))
	assert.True(t, res.Success)
	assert.Equal(t, ReasonNone, res.Error)
	assert.NotEmpty(t, res.ReleaseID)

	assert.Equal(t, []string{"sender/bad_user"}, releaser.released)
	assert.Contains(t, notifier.sent, "containment_released")

	require.Len(t, store.auditRows, 1)
	rec := store.auditRows[0]
	assert.True(t, rec.Success)
	assert.Equal(t, "token", rec.AuthMethod)
	assert.Equal(t, res.ReleaseID, rec.ReleaseID)
}

func TestPreviousTokenAcceptedDuringRotation(t *testing.T) {
	a, _, _, _ := newTestAuthority(testConfig())
	req := validRequest("nonce-rot")
	req.Token = "previous-token"
	assert.True(t, a.Release(context.Background(), req).Success)
}

func TestBadTokenRejectedAndCounted(t *testing.T) {
	a, store, _, _ := newTestAuthority(testConfig())
	req := validRequest("nonce-2")
	req.Token = "wrong"

	res := a.Release(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonAuthFailed, res.Error)
	assert.Len(t, store.failures, 1)
	// Failure still produced exactly one audit record.
	assert.Len(t, store.auditRows, 1)
	assert.False(t, store.auditRows[0].Success)
	// The bad token never consumed the nonce.
	assert.NotContains(t, store.nonces, "nonce-2")
}

func TestNonceReplayRejected(t *testing.T) {
	a, _, releaser, _ := newTestAuthority(testConfig())
	releaser.contained["sender/other"] = true

	require.True(t, a.Release(context.Background(), validRequest("nonce-3")).Success)

	req := validRequest("nonce-3")
	req.TargetID = "other"
	res := a.Release(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonReplayDetected, res.Error)
}

func TestNonceReplayDetectedFromDurableStore(t *testing.T) {
	// The nonce exists in the store but not in this process's memory,
	// simulating a replay across processes.
	a, store, _, _ := newTestAuthority(testConfig())
	store.nonces["nonce-4"] = time.Now()

	res := a.Release(context.Background(), validRequest("nonce-4"))
	assert.Equal(t, ReasonReplayDetected, res.Error)
}

func TestEmptyNonceRejected(t *testing.T) {
	a, _, _, _ := newTestAuthority(testConfig())
	res := a.Release(context.Background(), validRequest(""))
	assert.Equal(t, ReasonReplayDetected, res.Error)
}

func TestNonceStoreErrorFailsClosed(t *testing.T) {
	a, store, releaser, _ := newTestAuthority(testConfig())
	store.nonceErr = errors.New("store down")

	res := a.Release(context.Background(), validRequest("nonce-5"))
	assert.False(t, res.Success)
	assert.Equal(t, ReasonReplayDetected, res.Error)
	assert.Empty(t, releaser.released)
}

func TestRateLimitCountsFailedAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitCount = 3
	a, _, _, _ := newTestAuthority(cfg)

	// Attempts 1..3 pass the rate limiter (bad token so nothing releases,
	// but the attempts still count).
	for i := 0; i < 3; i++ {
		req := validRequest("n")
		req.Token = "wrong"
		res := a.Release(context.Background(), req)
		assert.NotEqual(t, ReasonRateLimited, res.Error)
	}
	// 4th attempt within the window is the (count+1)-th: rejected.
	res := a.Release(context.Background(), validRequest("nonce-6"))
	assert.Equal(t, ReasonRateLimited, res.Error)
}

func TestLockoutBeatsValidToken(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitCount = 100 // keep the rate limiter out of the way
	a, store, _, _ := newTestAuthority(cfg)

	for i := 0; i < 3; i++ {
		req := validRequest("n")
		req.Token = "wrong"
		res := a.Release(context.Background(), req)
		assert.Equal(t, ReasonAuthFailed, res.Error)
	}
	require.Len(t, store.failures, 3)

	res := a.Release(context.Background(), validRequest("nonce-7"))
	assert.False(t, res.Success)
	assert.Equal(t, ReasonLockedOut, res.Error)
}

func TestLockoutExpiresWithWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitCount = 100
	a, _, _, _ := newTestAuthority(cfg)
	base := time.Now().UTC()
	a.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		req := validRequest("n")
		req.Token = "wrong"
		a.Release(context.Background(), req)
	}

	a.now = func() time.Time { return base.Add(6 * time.Minute) }
	res := a.Release(context.Background(), validRequest("nonce-8"))
	assert.True(t, res.Success, "lockout must lapse with its window")
}

func TestInvalidTargetType(t *testing.T) {
	a, store, _, _ := newTestAuthority(testConfig())
	req := validRequest("nonce-9")
	req.TargetType = "host"

	res := a.Release(context.Background(), req)
	assert.Equal(t, ReasonInvalidTarget, res.Error)
	assert.Len(t, store.auditRows, 1)
}

func TestReleaseOfUnknownTarget(t *testing.T) {
	a, _, _, _ := newTestAuthority(testConfig())
	req := validRequest("nonce-10")
	req.TargetID = "nobody"

	res := a.Release(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNotFound, res.Error)
}

func TestEveryAttemptWritesOneAuditRecord(t *testing.T) {
	a, store, _, _ := newTestAuthority(testConfig())

	reqs := []Request{
		validRequest("a1"),
		{TargetType: "bogus"},
		func() Request { r := validRequest("a2"); r.Token = "bad"; return r }(),
		validRequest(""),
	}
	for _, r := range reqs {
		a.Release(context.Background(), r)
	}
	assert.Len(t, store.auditRows, len(reqs))
	seen := map[string]bool{}
	for _, rec := range store.auditRows {
		assert.False(t, seen[rec.ReleaseID], "release ids must be unique")
		seen[rec.ReleaseID] = true
	}
}

func TestHousekeepPrunesAgedNonces(t *testing.T) {
	a, store, _, _ := newTestAuthority(testConfig())
	base := time.Now().UTC()
	a.now = func() time.Time { return base }
	require.True(t, a.Release(context.Background(), validRequest("old-nonce")).Success)

	a.now = func() time.Time { return base.Add(10 * time.Minute) }
	a.housekeep(context.Background(), a.now())

	a.mu.Lock()
	_, inMemory := a.nonces["old-nonce"]
	a.mu.Unlock()
	assert.False(t, inMemory)
	assert.NotContains(t, store.nonces, "old-nonce")
}

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWindowTriggersExactlyAtThreshold(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow(5*time.Minute, 3)
	w.now = fixedClock(now)

	e := Event{Type: TypeRateLimited, Sender: "attacker", Channel: "spam", Timestamp: now}

	assert.Nil(t, w.Ingest(e))
	assert.Nil(t, w.Ingest(e))

	burst := w.Ingest(e)
	require.NotNil(t, burst)
	assert.Equal(t, "sender_threshold:attacker", burst.Trigger)
	assert.Equal(t, TargetSender, burst.TargetType)
	assert.Equal(t, "attacker", burst.TargetID)
	assert.Len(t, burst.Events, 3)
}

func TestWindowSenderCheckedBeforeChannel(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow(5*time.Minute, 2)
	w.now = fixedClock(now)

	// Same sender and channel reach the threshold on the same ingest; the
	// sender bucket wins the tie.
	e := Event{Type: TypePermissionDenied, Sender: "bad_user", Channel: "general", Timestamp: now}
	assert.Nil(t, w.Ingest(e))
	burst := w.Ingest(e)
	require.NotNil(t, burst)
	assert.Equal(t, TargetSender, burst.TargetType)
}

func TestWindowChannelThreshold(t *testing.T) {
	now := time.Now().UTC()
	w := NewWindow(5*time.Minute, 3)
	w.now = fixedClock(now)

	// Distinct senders flooding one channel: only the channel bucket fills.
	assert.Nil(t, w.Ingest(Event{Type: TypeRateLimited, Sender: "a", Channel: "spam", Timestamp: now}))
	assert.Nil(t, w.Ingest(Event{Type: TypeRateLimited, Sender: "b", Channel: "spam", Timestamp: now}))
	burst := w.Ingest(Event{Type: TypeRateLimited, Sender: "c", Channel: "spam", Timestamp: now})
	require.NotNil(t, burst)
	assert.Equal(t, "channel_threshold:spam", burst.Trigger)
	assert.Equal(t, TargetChannel, burst.TargetType)
}

func TestWindowPrunesExpiredEvents(t *testing.T) {
	start := time.Now().UTC()
	w := NewWindow(time.Minute, 3)
	w.now = fixedClock(start)

	old := Event{Type: TypeRateLimited, Sender: "s", Channel: "c", Timestamp: start.Add(-2 * time.Minute)}
	assert.Nil(t, w.Ingest(old))
	assert.Nil(t, w.Ingest(old))

	// The stale entries must not count toward the threshold.
	fresh := Event{Type: TypeRateLimited, Sender: "s", Channel: "c", Timestamp: start}
	w.now = fixedClock(start.Add(time.Second))
	assert.Nil(t, w.Ingest(fresh))
	assert.Nil(t, w.Ingest(fresh))
	burst := w.Ingest(fresh)
	require.NotNil(t, burst)
	assert.Len(t, burst.Events, 3)
}

func TestWindowPruneIdempotent(t *testing.T) {
	start := time.Now().UTC()
	w := NewWindow(time.Minute, 10)
	w.now = fixedClock(start)

	w.Ingest(Event{Type: TypeRateLimited, Sender: "s", Channel: "c", Timestamp: start.Add(-2 * time.Minute)})

	w.mu.Lock()
	w.pruneLocked(start)
	first := len(w.global)
	w.pruneLocked(start)
	second := len(w.global)
	w.mu.Unlock()

	assert.Equal(t, first, second)
	assert.Zero(t, first)
}

package notify

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goccy/go-json"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(d *Dispatcher) {
	d.sleep = func(time.Duration) {}
}

func details(targetType, targetID string) map[string]interface{} {
	return map[string]interface{}{"target_type": targetType, "target_id": targetID}
}

func TestDispatchPostsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Minute, 3, time.Millisecond, discard())
	noSleep(d)

	assert.True(t, d.Dispatch("containment_applied", "high", details("sender", "bad_user")))
	assert.Equal(t, "containment_applied", got.EventType)
	assert.Equal(t, "sentraguard", got.Source)
	assert.Equal(t, "bad_user", got.Details["target_id"])
}

func TestDedupeSuppressesWithinWindow(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Minute, 3, time.Millisecond, discard())
	noSleep(d)

	assert.True(t, d.Dispatch("incident_created", "low", details("sender", "x")))
	assert.False(t, d.Dispatch("incident_created", "low", details("sender", "x")))
	// Different target: not a duplicate.
	assert.True(t, d.Dispatch("incident_created", "low", details("sender", "y")))
	assert.EqualValues(t, 2, calls.Load())
}

func TestDedupeExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Minute, 1, time.Millisecond, discard())
	noSleep(d)
	base := time.Now()
	d.now = func() time.Time { return base }

	assert.True(t, d.Dispatch("e", "low", details("sender", "x")))
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.True(t, d.Dispatch("e", "low", details("sender", "x")))
}

func TestRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Minute, 3, time.Millisecond, discard())
	noSleep(d)

	assert.False(t, d.Dispatch("e", "high", details("sender", "x")))
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Minute, 3, time.Millisecond, discard())
	noSleep(d)

	assert.True(t, d.Dispatch("e", "high", details("sender", "x")))
	assert.EqualValues(t, 2, calls.Load())
}

func TestNoWebhookSecondarySinkCounts(t *testing.T) {
	d := NewDispatcher("", time.Minute, 3, time.Millisecond, discard())
	noSleep(d)
	assert.True(t, d.Dispatch("e", "low", details("sender", "x")))
}

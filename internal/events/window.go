package events

import (
	"fmt"
	"sync"
	"time"
)

// Burst is the output of a threshold crossing: the bucket snapshot that
// tripped the evaluator, attributed to one target.
type Burst struct {
	Trigger    string
	TargetType TargetType
	TargetID   string
	Events     []Event
}

// Window holds per-sender and per-channel event buckets over a sliding
// correlation window and evaluates the incident threshold on every ingest.
type Window struct {
	mu        sync.Mutex
	span      time.Duration
	threshold int

	global    []Event
	bySender  map[string][]Event
	byChannel map[string][]Event

	ingested int64

	now func() time.Time
}

func NewWindow(span time.Duration, threshold int) *Window {
	return &Window{
		span:      span,
		threshold: threshold,
		bySender:  make(map[string][]Event),
		byChannel: make(map[string][]Event),
		now:       time.Now,
	}
}

// Ingest prunes expired entries, records the event, and returns a Burst if
// the sender or channel bucket reached the threshold. The sender bucket is
// checked first so ties resolve deterministically.
func (w *Window) Ingest(e Event) *Burst {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	w.global = append(w.global, e)
	w.bySender[e.Sender] = append(w.bySender[e.Sender], e)
	w.byChannel[e.Channel] = append(w.byChannel[e.Channel], e)
	w.ingested++

	if bucket := w.bySender[e.Sender]; len(bucket) >= w.threshold {
		return &Burst{
			Trigger:    fmt.Sprintf("sender_threshold:%s", e.Sender),
			TargetType: TargetSender,
			TargetID:   e.Sender,
			Events:     snapshot(bucket),
		}
	}
	if bucket := w.byChannel[e.Channel]; len(bucket) >= w.threshold {
		return &Burst{
			Trigger:    fmt.Sprintf("channel_threshold:%s", e.Channel),
			TargetType: TargetChannel,
			TargetID:   e.Channel,
			Events:     snapshot(bucket),
		}
	}
	return nil
}

// Ingested reports the total number of events accepted since startup.
func (w *Window) Ingested() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ingested
}

// pruneLocked drops entries with timestamp at or before now minus the
// window span. Pruning an already-pruned window is a no-op.
func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	w.global = pruneList(w.global, cutoff)
	for k, list := range w.bySender {
		if pruned := pruneList(list, cutoff); len(pruned) == 0 {
			delete(w.bySender, k)
		} else {
			w.bySender[k] = pruned
		}
	}
	for k, list := range w.byChannel {
		if pruned := pruneList(list, cutoff); len(pruned) == 0 {
			delete(w.byChannel, k)
		} else {
			w.byChannel[k] = pruned
		}
	}
}

func pruneList(list []Event, cutoff time.Time) []Event {
	out := list[:0]
	for _, e := range list {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func snapshot(list []Event) []Event {
	out := make([]Event, len(list))
	copy(out, list)
	return out
}

package incidents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentraguard/internal/audit"
	"sentraguard/internal/containment"
	"sentraguard/internal/events"
	"sentraguard/internal/metrics"
)

// Notifier is the outbound alerting hook. Satisfied by notify.Dispatcher.
type Notifier interface {
	Dispatch(eventType, severity string, details map[string]interface{}) bool
}

// Manager turns threshold bursts into persisted incidents, suppressing
// repeats of the same policy trigger within the dedupe window, and applies
// containment for non-suppressed incidents.
type Manager struct {
	mu          sync.Mutex
	lastTrigger map[string]time.Time
	suppressed  int64
	created     int64

	dedupeWindow       time.Duration
	threshold          int
	containmentEnabled bool

	store      Store
	journal    *audit.Appender
	controller *containment.Controller
	notifier   Notifier
	logger     *slog.Logger

	now func() time.Time
}

func NewManager(
	store Store,
	journal *audit.Appender,
	controller *containment.Controller,
	notifier Notifier,
	dedupeWindow time.Duration,
	threshold int,
	containmentEnabled bool,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		lastTrigger:        make(map[string]time.Time),
		dedupeWindow:       dedupeWindow,
		threshold:          threshold,
		containmentEnabled: containmentEnabled,
		store:              store,
		journal:            journal,
		controller:         controller,
		notifier:           notifier,
		logger:             logger,
		now:                time.Now,
	}
}

// Create builds and persists an incident from a burst. Returns nil when the
// trigger fired within the dedupe window; suppressed duplicates produce no
// incident and no containment.
func (m *Manager) Create(ctx context.Context, burst *events.Burst) *Incident {
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastTrigger[burst.Trigger]; ok && now.Sub(last) < m.dedupeWindow {
		m.suppressed++
		m.mu.Unlock()
		metrics.IncidentsSuppressed.Inc()
		m.logger.Debug("incident suppressed by dedupe window", "trigger", burst.Trigger)
		return nil
	}
	m.lastTrigger[burst.Trigger] = now
	m.created++
	m.mu.Unlock()

	sev := computeSeverity(burst.Events, m.threshold)
	action := containment.ActionFor(string(sev), burst.TargetType)

	inc := &Incident{
		ID:            uuid.NewString(),
		Severity:      sev,
		FirstSeen:     burst.Events[0].Timestamp,
		LastSeen:      burst.Events[len(burst.Events)-1].Timestamp,
		EventCounts:   countByType(burst.Events),
		Events:        burst.Events,
		Containment:   containment.ActionNone,
		PolicyTrigger: burst.Trigger,
		Status:        StatusOpen,
		CreatedAt:     now,
	}
	if m.containmentEnabled && action != containment.ActionNone {
		inc.Containment = action
	}

	// Persistence is best-effort on both sinks; the incident is still
	// returned and containment still applied on failure.
	if err := m.store.Insert(ctx, inc); err != nil {
		m.logger.Error("persist incident", "err", err, "incident_id", inc.ID)
		metrics.StoreErrors.WithLabelValues("incidents").Inc()
	}
	if m.journal != nil {
		if err := m.journal.Append(inc); err != nil {
			m.logger.Error("append incident journal", "err", err, "incident_id", inc.ID)
		}
	}
	metrics.IncidentsCreated.WithLabelValues(string(sev)).Inc()
	m.logger.Info("incident created",
		"incident_id", inc.ID, "severity", sev, "trigger", burst.Trigger,
		"events", len(burst.Events), "containment", inc.Containment)

	if inc.Containment != containment.ActionNone {
		m.controller.Apply(ctx, burst.TargetType, burst.TargetID, inc.Containment, inc.ID, burst.Trigger)
	}
	if m.notifier != nil {
		m.notifier.Dispatch("incident_created", string(sev), map[string]interface{}{
			"incident_id": inc.ID,
			"target_type": string(burst.TargetType),
			"target_id":   burst.TargetID,
			"trigger":     burst.Trigger,
			"containment": string(inc.Containment),
		})
	}
	return inc
}

// CloseIncident transitions open → closed. False for unknown or already
// closed incidents.
func (m *Manager) CloseIncident(ctx context.Context, id string) bool {
	closed, err := m.store.Close(ctx, id)
	if err != nil {
		m.logger.Error("close incident", "err", err, "incident_id", id)
		metrics.StoreErrors.WithLabelValues("incidents").Inc()
		return false
	}
	if closed {
		m.logger.Info("incident closed", "incident_id", id)
	}
	return closed
}

// Counters reports created and suppressed totals since startup.
func (m *Manager) Counters() (created, suppressed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.suppressed
}

func computeSeverity(evts []events.Event, threshold int) Severity {
	var hasAlert, hasDenied bool
	for _, e := range evts {
		switch e.Type {
		case events.TypeSecurityAlert:
			hasAlert = true
		case events.TypePermissionDenied:
			hasDenied = true
		case events.TypeRateLimited, events.TypeCommandFallback:
		}
	}
	n := len(evts)
	switch {
	case hasAlert && n >= 10:
		return SeverityCritical
	case hasAlert || (hasDenied && n >= 5):
		return SeverityHigh
	case n >= 2*threshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func countByType(evts []events.Event) map[events.Type]int {
	counts := make(map[events.Type]int)
	for _, e := range evts {
		counts[e.Type]++
	}
	return counts
}

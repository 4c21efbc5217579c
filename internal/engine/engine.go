package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentraguard/internal/config"
	"sentraguard/internal/containment"
	"sentraguard/internal/events"
	"sentraguard/internal/incidents"
	"sentraguard/internal/metrics"
	"sentraguard/internal/release"
)

// Engine is the correlation front door: producers push events in,
// consumers ask whether a sender or channel is contained, and operators
// release containment through the authority.
type Engine struct {
	window        *events.Window
	manager       *incidents.Manager
	controller    *containment.Controller
	authority     *release.Authority
	incidentStore incidents.Store
	releaseStore  release.Store
	cfg           *config.Config
	logger        *slog.Logger
}

func New(
	window *events.Window,
	manager *incidents.Manager,
	controller *containment.Controller,
	authority *release.Authority,
	incidentStore incidents.Store,
	releaseStore release.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		window:        window,
		manager:       manager,
		controller:    controller,
		authority:     authority,
		incidentStore: incidentStore,
		releaseStore:  releaseStore,
		cfg:           cfg,
		logger:        logger,
	}
}

// IngestEvent runs one event through the window and, on a threshold
// crossing, through incident creation. Returns the created incident, or
// nil when no threshold crossed or the duplicate was suppressed.
func (e *Engine) IngestEvent(ctx context.Context, ev events.Event) (*incidents.Incident, error) {
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()

	burst := e.window.Ingest(ev)
	if burst == nil {
		return nil, nil
	}
	return e.manager.Create(ctx, burst), nil
}

// CheckContainment is the gating call producers make before acting on a
// message. Nil means unrestricted.
func (e *Engine) CheckContainment(ctx context.Context, sender, channel string) *containment.State {
	return e.controller.Check(ctx, sender, channel)
}

func (e *Engine) IsAdvisoryOnlyMode() bool {
	return e.controller.IsAdvisoryOnly()
}

func (e *Engine) ReleaseContainment(ctx context.Context, req release.Request) release.Result {
	return e.authority.Release(ctx, req)
}

func (e *Engine) CloseIncident(ctx context.Context, id string) bool {
	return e.manager.CloseIncident(ctx, id)
}

func (e *Engine) AuditRecords(ctx context.Context, limit int, targetID string) ([]release.AuditRecord, error) {
	return e.releaseStore.ListAudit(ctx, limit, targetID)
}

func (e *Engine) Incidents(ctx context.Context, limit int) ([]incidents.Incident, error) {
	return e.incidentStore.List(ctx, limit)
}

func (e *Engine) Incident(ctx context.Context, id string) (*incidents.Incident, error) {
	return e.incidentStore.Get(ctx, id)
}

// Stats summarizes engine activity since startup.
func (e *Engine) Stats() map[string]interface{} {
	created, suppressed := e.manager.Counters()
	active := e.controller.Snapshot()
	return map[string]interface{}{
		"events_ingested":      e.window.Ingested(),
		"incidents_created":    created,
		"incidents_suppressed": suppressed,
		"containments_active":  len(active),
		"advisory_only":        e.controller.IsAdvisoryOnly(),
	}
}

// Bundle is an exportable forensic snapshot of one incident: the record
// itself, any containment entries it produced, and the non-secret
// configuration in force.
type Bundle struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Incident    *incidents.Incident    `json:"incident"`
	Containment []containment.State    `json:"containment"`
	Config      map[string]interface{} `json:"config"`
}

func (e *Engine) ExportBundle(ctx context.Context, incidentID string) (*Bundle, error) {
	inc, err := e.incidentStore.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	var related []containment.State
	for _, st := range e.controller.Snapshot() {
		if st.IncidentID == incidentID {
			related = append(related, st)
		}
	}
	return &Bundle{
		GeneratedAt: time.Now().UTC(),
		Incident:    inc,
		Containment: related,
		Config:      e.cfg.Redacted(),
	}, nil
}

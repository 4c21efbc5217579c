package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentraguard_events_ingested_total",
			Help: "Security events ingested into the correlation window",
		},
		[]string{"event_type"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentraguard_incidents_created_total",
			Help: "Incidents created after a threshold crossing",
		},
		[]string{"severity"},
	)

	IncidentsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentraguard_incidents_suppressed_total",
			Help: "Candidate incidents suppressed by the trigger dedupe window",
		},
	)

	ContainmentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentraguard_containments_active",
			Help: "Containment states currently held in memory",
		},
	)

	ContainmentsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentraguard_containments_applied_total",
			Help: "Containment actions applied",
		},
		[]string{"action"},
	)

	NotificationAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentraguard_notification_attempts_total",
			Help: "Webhook notification delivery attempts, retries included",
		},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentraguard_notification_failures_total",
			Help: "Webhook notification deliveries that exhausted all retries",
		},
	)

	NotificationSuccess = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentraguard_notification_success_total",
			Help: "Webhook notification deliveries that succeeded",
		},
	)

	NotificationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentraguard_notification_retries_total",
			Help: "Webhook notification retry attempts after a failed delivery",
		},
	)

	ReleaseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentraguard_release_attempts_total",
			Help: "Authenticated release attempts by outcome",
		},
		[]string{"outcome"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentraguard_store_errors_total",
			Help: "Persistence errors on best-effort paths",
		},
		[]string{"table"},
	)
)

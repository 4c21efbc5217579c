package incidents

import (
	"time"

	"sentraguard/internal/containment"
	"sentraguard/internal/events"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Incident is the persisted record of a threshold-crossing burst. It is
// append-only: after creation the only permitted mutation is the status
// transition open → closed.
type Incident struct {
	ID            string                `json:"id"`
	Severity      Severity              `json:"severity"`
	FirstSeen     time.Time             `json:"first_seen"`
	LastSeen      time.Time             `json:"last_seen"`
	EventCounts   map[events.Type]int   `json:"event_counts"`
	Events        []events.Event        `json:"events"`
	Containment   containment.Action    `json:"containment"`
	PolicyTrigger string                `json:"policy_trigger"`
	Status        Status                `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
}

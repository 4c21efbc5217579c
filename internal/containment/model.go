package containment

import (
	"time"

	"sentraguard/internal/events"
)

// Action is the restriction applied to a target while contained.
type Action string

const (
	ActionMuteSender   Action = "mute_sender"
	ActionMuteChannel  Action = "mute_channel"
	ActionAdvisoryOnly Action = "advisory_only"
	ActionNone         Action = "none"
)

// ActionFor maps incident severity to a containment action. Critical
// incidents flip the global advisory-only flag rather than muting one
// target; high and medium mute the target that tripped the threshold.
func ActionFor(severity string, target events.TargetType) Action {
	switch severity {
	case "critical":
		return ActionAdvisoryOnly
	case "high", "medium":
		if target == events.TargetSender {
			return ActionMuteSender
		}
		return ActionMuteChannel
	default:
		return ActionNone
	}
}

// State is one containment entry, keyed uniquely by (target_type, target_id).
type State struct {
	TargetType events.TargetType `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Action     Action            `json:"action"`
	AppliedAt  time.Time         `json:"applied_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Reason     string            `json:"reason"`
	IncidentID string            `json:"incident_id"`
}

func (s *State) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
